package waitlist

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/trackpay/trackpay-api/internal/model"
)

type mockWaitlistRepo struct {
	entries map[string]*model.WaitlistEntry
	err     error
}

func (m *mockWaitlistRepo) Add(_ context.Context, e *model.WaitlistEntry) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.entries == nil {
		m.entries = map[string]*model.WaitlistEntry{}
	}
	if _, ok := m.entries[e.Email]; ok {
		return false, nil
	}
	m.entries[e.Email] = e
	return true, nil
}

func TestJoin_NormalizesAndDefaults(t *testing.T) {
	repo := &mockWaitlistRepo{}
	svc := NewService(repo, nil)

	added, err := svc.Join(context.Background(), "  Ana@Example.COM ", "es", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !added {
		t.Error("first join should report added")
	}
	e := repo.entries["ana@example.com"]
	if e == nil {
		t.Fatalf("entry not stored under normalized email: %v", repo.entries)
	}
	if e.Language != model.LanguageSpanish || e.Source != "web" {
		t.Errorf("entry = %+v", e)
	}
}

// 同じメールアドレスの再登録はエラーにならないこと。
func TestJoin_DuplicateIsNotAnError(t *testing.T) {
	repo := &mockWaitlistRepo{}
	svc := NewService(repo, nil)

	if _, err := svc.Join(context.Background(), "ana@example.com", "en", "landing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	added, err := svc.Join(context.Background(), "ANA@example.com", "en", "landing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added {
		t.Error("second join should not report added")
	}
}

func TestJoin_Validation(t *testing.T) {
	rejectAll := func(string) error { return model.NewValidationError("invalid email") }
	for _, tc := range []struct {
		name     string
		email    string
		validate EmailValidator
	}{
		{"empty", "   ", nil},
		{"invalid", "not-an-email", rejectAll},
	} {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(&mockWaitlistRepo{}, tc.validate)
			_, err := svc.Join(context.Background(), tc.email, "en", "")
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
				t.Errorf("err = %v, want VALIDATION_ERROR", err)
			}
		})
	}
}

func TestJoin_TruncatesSource(t *testing.T) {
	repo := &mockWaitlistRepo{}
	svc := NewService(repo, nil)

	if _, err := svc.Join(context.Background(), "a@b.co", "en", strings.Repeat("x", 100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(repo.entries["a@b.co"].Source); got != maxSourceLength {
		t.Errorf("source length = %d, want %d", got, maxSourceLength)
	}
}

func TestJoin_RepositoryError(t *testing.T) {
	dbErr := errors.New("db down")
	svc := NewService(&mockWaitlistRepo{err: dbErr}, nil)

	_, err := svc.Join(context.Background(), "a@b.co", "en", "")
	if !errors.Is(err, dbErr) {
		t.Errorf("err = %v, want wrapped db error", err)
	}
}
