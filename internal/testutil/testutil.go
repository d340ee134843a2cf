// Package testutil builds migrated SQLite workspaces and seed data for tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
)

// Epoch is the fixed clock used by fixtures.
var Epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// NewDB opens a migrated database in a temporary workspace and closes it with the test.
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

type Fixture struct {
	T    *testing.T
	DB   *sqlx.DB
	Repo repo.Repo
	Ctx  context.Context
}

// NewFixture returns a fixture with the default status set seeded.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	conn := NewDB(t)
	f := &Fixture{T: t, DB: conn, Repo: repo.Repo{DB: conn}, Ctx: context.Background()}
	f.Status("NEW", domain.KindDefault, false, nil)
	f.Status("IN_PROGRESS", domain.KindDefault, false, nil)
	f.Status("AWAITING_PAYMENT", domain.KindInvoice, false, nil)
	f.Status("PAID", domain.KindPaid, false, nil)
	f.Status("RESOLVED", domain.KindDefault, true, nil)
	f.Status("CLOSED", domain.KindDefault, true, nil)
	f.Status("REJECTED", domain.KindDefault, true, nil)
	return f
}

// Tx runs fn in a committed transaction, failing the test on error.
func (f *Fixture) Tx(fn func(tx *sqlx.Tx) error) {
	f.T.Helper()
	tx, err := f.DB.BeginTxx(f.Ctx, nil)
	if err != nil {
		f.T.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		f.T.Fatalf("fixture: %v", err)
	}
	if err := tx.Commit(); err != nil {
		f.T.Fatalf("commit: %v", err)
	}
}

func (f *Fixture) Status(code string, kind domain.StatusKind, terminal bool, template *string) domain.Status {
	f.T.Helper()
	s := domain.Status{Code: code, Name: code, Kind: kind, IsTerminal: terminal, InvoiceTemplate: template}
	f.Tx(func(tx *sqlx.Tx) error { return f.Repo.UpsertStatusTx(f.Ctx, tx, s) })
	return s
}

func (f *Fixture) Rule(rule domain.TransitionRule) {
	f.T.Helper()
	f.Tx(func(tx *sqlx.Tx) error { return f.Repo.UpsertRuleTx(f.Ctx, tx, rule) })
}

// Staff inserts an active staff member. primary may be empty.
func (f *Fixture) Staff(id string, role domain.Role, primary string, rate *float64, secondary ...string) domain.Staff {
	f.T.Helper()
	s := domain.Staff{ID: id, Name: id, Role: role, Active: true, DefaultRate: rate, CreatedAt: Epoch.Format(time.RFC3339)}
	if primary != "" {
		s.PrimaryTopic = &primary
	}
	f.Tx(func(tx *sqlx.Tx) error {
		if err := f.Repo.InsertStaffTx(f.Ctx, tx, s); err != nil {
			return err
		}
		for _, topic := range secondary {
			if err := f.Repo.AddStaffTopicTx(f.Ctx, tx, id, topic); err != nil {
				return err
			}
		}
		return nil
	})
	return s
}

// Case inserts a case created at Epoch; mutators adjust it before insert.
func (f *Fixture) Case(id, topic, status string, mutators ...func(*domain.Case)) domain.Case {
	f.T.Helper()
	ts := Epoch.Format(time.RFC3339)
	c := domain.Case{
		ID: id, TrackNumber: "TRK-" + id, ClientName: "Client " + id, ClientPhone: "+70000000000",
		TopicCode: topic, Status: status, Data: domain.JSONMap{}, CreatedAt: ts, UpdatedAt: ts,
	}
	for _, m := range mutators {
		m(&c)
	}
	f.Tx(func(tx *sqlx.Tx) error { return f.Repo.InsertCaseTx(f.Ctx, tx, c) })
	return c
}

func (f *Fixture) Message(id, caseID, body string) {
	f.T.Helper()
	f.Tx(func(tx *sqlx.Tx) error {
		return f.Repo.InsertMessageTx(f.Ctx, tx, domain.Message{
			ID: id, CaseID: caseID, AuthorID: "TRK-" + caseID, AuthorRole: domain.RoleClient, Body: body,
			CreatedAt: Epoch.Format(time.RFC3339),
		})
	})
}

func (f *Fixture) Attachment(id, caseID, mime string) {
	f.T.Helper()
	f.Tx(func(tx *sqlx.Tx) error {
		return f.Repo.InsertAttachmentTx(f.Ctx, tx, domain.Attachment{
			ID: id, CaseID: caseID, FileName: id, MimeType: mime, StorageKey: "cases/" + caseID + "/" + id,
			UploadedBy: "TRK-" + caseID, CreatedAt: Epoch.Format(time.RFC3339),
		})
	})
}

func Ptr[T any](v T) *T { return &v }
