// Package gdrive uploads daily copies of the sqlite database to a Google
// Drive folder, keyed by service-account credentials.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type Backup struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewBackup(ctx context.Context, credPath, folderID string) (*Backup, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Backup{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

// Upload pushes the database file to Drive as classroom-backup-<date>,
// overwriting the same day's earlier upload in place.
func (b *Backup) Upload(dbPath, date string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", dbPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID, ok := b.fileIDs[date]; ok {
		if _, err := b.service.Files.Update(fileID, &drive.File{}).Media(f).Do(); err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	doc, err := b.service.Files.Create(&drive.File{
		Name:     fmt.Sprintf("classroom-backup-%s.db", date),
		MimeType: "application/octet-stream",
		Parents:  []string{b.folderID},
	}).Media(f).Do()
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}

	b.fileIDs[date] = doc.Id
	return nil
}
