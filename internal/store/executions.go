package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-quant/optionengine/pkg/types"
)

// ExecutionLog is an append-only JSON-lines file of completed executions.
// Records are never rewritten; List replays the whole file.
type ExecutionLog struct {
	mu     sync.Mutex
	logger *zap.Logger
	path   string
}

func NewExecutionLog(logger *zap.Logger, dataDir string) (*ExecutionLog, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &ExecutionLog{
		logger: logger.Named("execution_log"),
		path:   filepath.Join(dataDir, "executions.jsonl"),
	}, nil
}

// Append writes one completed execution record.
func (l *ExecutionLog) Append(rec types.ExecutionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open execution log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append execution record: %w", err)
	}
	return nil
}

// List replays every record in append order.
func (l *ExecutionLog) List() ([]types.ExecutionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open execution log: %w", err)
	}
	defer f.Close()

	var records []types.ExecutionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.ExecutionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			l.logger.Warn("skipping malformed execution record", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
