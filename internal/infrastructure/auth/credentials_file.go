package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kirogateway/gateway/internal/domain/entity"
)

// credentialsFile is the on-disk JSON shape: ExpiresAt is ISO-8601 text,
// not the time.Time the in-memory record uses.
type credentialsFile struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
	ProfileARN   string `json:"profileArn,omitempty"`
	Region       string `json:"region,omitempty"`
}

func loadCredentialsFile(path string) (*entity.Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf credentialsFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	creds := &entity.Credentials{
		AccessToken:  cf.AccessToken,
		RefreshToken: cf.RefreshToken,
		ProfileARN:   cf.ProfileARN,
		Region:       cf.Region,
	}
	if cf.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, cf.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("parse expiresAt: %w", err)
		}
		creds.ExpiresAt = &t
	}
	return creds, nil
}

// saveCredentialsFile atomically rewrites path: write to a temp file in
// the same directory, then rename over the target.
func saveCredentialsFile(path string, creds *entity.Credentials) error {
	cf := credentialsFile{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ProfileARN:   creds.ProfileARN,
		Region:       creds.Region,
	}
	if creds.ExpiresAt != nil {
		cf.ExpiresAt = creds.ExpiresAt.Format(time.RFC3339)
	}

	raw, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".creds-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credentials file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename credentials file: %w", err)
	}
	return nil
}
