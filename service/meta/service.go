// Package meta loads configuration documents for the engine from any
// location the abstract file storage supports (local files, in-memory URLs,
// cloud buckets), expanding ${env.KEY} references before decoding.
package meta

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Service fetches and decodes YAML documents.
type Service struct {
	fs      afs.Service
	baseURL string
}

// New creates a meta service rooted at baseURL; an empty base leaves
// locations untouched.
func New(fs afs.Service, baseURL string) *Service {
	if fs == nil {
		fs = afs.New()
	}
	return &Service{fs: fs, baseURL: baseURL}
}

// Load fetches the document at the location and decodes it into target.
func (s *Service) Load(ctx context.Context, location string, target interface{}) error {
	URL := s.resolveURL(location)
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", URL, err)
	}
	expanded := expandEnvExpr(string(data))
	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return fmt.Errorf("failed to decode %s: %w", URL, err)
	}
	return nil
}

func (s *Service) resolveURL(location string) string {
	if s.baseURL == "" || path.IsAbs(location) {
		return location
	}
	if u, err := url.Parse(location); err == nil && u.Scheme != "" {
		return location
	}
	return strings.TrimSuffix(s.baseURL, "/") + "/" + location
}
