package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

var extensions = []string{".json", ".yaml", ".yml"}

// document is the on-disk snapshot shape. A null value means the metric
// could not be computed.
type document struct {
	AsOf   time.Time           `json:"as_of" yaml:"as_of"`
	Values map[string]*float64 `json:"values" yaml:"values"`
}

// FileProvider reads one snapshot document per account from a directory,
// named <account>.json, <account>.yaml or <account>.yml. Files are re-read
// on every call so an exporter can replace them between runs.
type FileProvider struct {
	dir    string
	logger *slog.Logger
}

// NewFileProvider creates a FileProvider rooted at dir.
func NewFileProvider(dir string, logger *slog.Logger) *FileProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileProvider{dir: dir, logger: logger}
}

func (p *FileProvider) Snapshot(_ context.Context, accountID string, asOf time.Time) (model.Snapshot, error) {
	if accountID == "" || filepath.Base(accountID) != accountID || strings.HasPrefix(accountID, ".") {
		return model.Snapshot{}, &DataUnavailableError{AccountID: accountID, Err: fmt.Errorf("invalid account id")}
	}

	path, data, err := p.read(accountID)
	if err != nil {
		return model.Snapshot{}, &DataUnavailableError{AccountID: accountID, Err: err}
	}

	var doc document
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return model.Snapshot{}, &DataUnavailableError{AccountID: accountID, Err: fmt.Errorf("parse %s: %w", path, err)}
	}

	snap := model.Snapshot{AccountID: accountID, AsOf: doc.AsOf, Values: make(map[model.Metric]float64, len(doc.Values))}
	if snap.AsOf.IsZero() {
		snap.AsOf = asOf
	}
	for key, v := range doc.Values {
		metric, ok := model.ParseMetric(key)
		if !ok {
			p.logger.Debug("ignoring unknown metric in snapshot", "account", accountID, "metric", key)
			continue
		}
		if v == nil {
			continue
		}
		snap.Values[metric] = *v
	}
	return snap, nil
}

func (p *FileProvider) read(accountID string) (string, []byte, error) {
	for _, ext := range extensions {
		path := filepath.Join(p.dir, accountID+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return path, nil, fmt.Errorf("read snapshot %s: %w", path, err)
		}
		return path, data, nil
	}
	return "", nil, fmt.Errorf("no snapshot file for account in %s", p.dir)
}
