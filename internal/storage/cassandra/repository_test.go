package cassandra

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/tabletop-sync/lifesync/internal/config"
	"github.com/tabletop-sync/lifesync/internal/models"
	"github.com/tabletop-sync/lifesync/internal/storage"
	"github.com/tabletop-sync/lifesync/pkg/logger"
)

func endedSession(id string) models.Session {
	s := models.Session{
		ID:           id,
		Code:         "QRS234",
		HostID:       "A",
		Capacity:     2,
		Format:       models.FormatCommander,
		StartingLife: 40,
		Status:       models.StatusEnded,
		LastUpdate:   17,
	}
	s = s.AddParticipant(models.Identity{ID: "A", Name: "Alice"}, true)
	s = s.AddParticipant(models.Identity{ID: "B", Name: "Bob"}, false)
	s.Participants[1].Counters.CommanderDamage["A"] = 21
	return s
}

func TestParseConsistency(t *testing.T) {
	tests := []struct {
		input    string
		expected gocql.Consistency
	}{
		{"ONE", gocql.One},
		{"local_quorum", gocql.LocalQuorum},
		{"ALL", gocql.All},
		{"", gocql.Quorum},
		{"bogus", gocql.Quorum},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseConsistency(tt.input); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestRetryPolicy_GetRetryType(t *testing.T) {
	p := RetryPolicy(3)

	if p.GetRetryType(gocql.ErrTimeoutNoResponse) != gocql.Retry {
		t.Error("Expected timeouts to be retried")
	}
	if p.GetRetryType(errors.New("connection reset by peer")) != gocql.Retry {
		t.Error("Expected connection errors to be retried")
	}
	if p.GetRetryType(errors.New("syntax error")) != gocql.Rethrow {
		t.Error("Expected other errors to be rethrown")
	}
}

func TestDocumentEncoding(t *testing.T) {
	s := endedSession("s1")

	raw, err := encodeDocument(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(raw, `"counterpartyId":"A"`) {
		t.Errorf("Expected commander entries in document, got %s", raw)
	}

	back, err := decodeDocument(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !back.Equal(s) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, s)
	}
}

// Runs only against a live cluster named by CASSANDRA_TEST_HOSTS.
func TestRepository_ArchiveRoundTrip(t *testing.T) {
	hosts := os.Getenv("CASSANDRA_TEST_HOSTS")
	if hosts == "" {
		t.Skip("CASSANDRA_TEST_HOSTS not set")
	}

	cfg := config.CassandraConfig{
		Hosts:       strings.Split(hosts, ","),
		Keyspace:    "lifesync_test",
		Consistency: "ONE",
		Timeout:     10 * time.Second,
	}
	client, err := NewClient(cfg, logger.Discard())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	repo := NewRepository(client, logger.Discard(), cfg.Timeout)
	ctx := context.Background()
	s := endedSession(uuid.NewString())

	if err := repo.Archive(ctx, s); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if err := repo.Archive(ctx, s); err != nil {
		t.Fatalf("Second archive should be a no-op, got %v", err)
	}

	got, err := repo.GetArchived(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetArchived failed: %v", err)
	}
	if !got.Session.Equal(s) {
		t.Errorf("archived session mismatch")
	}

	if _, err := repo.GetArchived(ctx, "missing"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	list, err := repo.ListByCode(ctx, s.Code)
	if err != nil {
		t.Fatalf("ListByCode failed: %v", err)
	}
	found := false
	for _, a := range list {
		if a.Session.ID == s.ID {
			found = true
		}
	}
	if !found {
		t.Error("Expected archived session in code listing")
	}
}
