package gamification

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
)

// FileSink writes <dir>/<short name>.gamification.yaml.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, errors.New("gamification: sink directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("gamification: create %s: %w", dir, err)
	}
	return &FileSink{dir: dir}, nil
}

// Path returns the file a course description is written to.
func (sink *FileSink) Path(shortName string) string {
	return filepath.Join(sink.dir, filepath.Base(shortName)+".gamification.yaml")
}

func (sink *FileSink) Publish(_ context.Context, shortName string, document []byte) error {
	if err := os.WriteFile(sink.Path(shortName), document, 0o644); err != nil {
		return fmt.Errorf("gamification: write %s: %w", shortName, err)
	}
	return nil
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NatsSink publishes descriptions on <subject>.<short name>.
type NatsSink struct {
	conn    *nats.Conn
	pub     publisher
	subject string
}

// NewNatsSink connects to url.
func NewNatsSink(url string, subject string) (*NatsSink, error) {
	if subject == "" {
		return nil, errors.New("gamification: nats subject is required")
	}
	conn, err := nats.Connect(url,
		nats.Name("coursepack-gamification"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("gamification: connect nats: %w", err)
	}
	return &NatsSink{conn: conn, pub: conn, subject: subject}, nil
}

func (sink *NatsSink) Publish(_ context.Context, shortName string, document []byte) error {
	if err := sink.pub.Publish(sink.subject+"."+shortName, document); err != nil {
		return fmt.Errorf("gamification: publish %s: %w", shortName, err)
	}
	return nil
}

// Close drains the connection.
func (sink *NatsSink) Close() error {
	if sink.conn == nil {
		return nil
	}
	return sink.conn.Drain()
}
