package environment_test

import (
	"testing"
	"time"

	"github.com/majorhost/taskexec/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("TE_TEST_STR", "value")
	if got := environment.StringOr("TE_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
	if got := environment.StringOr("TE_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestRequiredString(t *testing.T) {
	if _, err := environment.RequiredString("TE_TEST_MISSING"); err == nil {
		t.Fatal("expected error for missing variable")
	}
	t.Setenv("TE_TEST_PRESENT", "x")
	v, err := environment.RequiredString("TE_TEST_PRESENT")
	if err != nil || v != "x" {
		t.Fatalf("expected x/nil, got %q/%v", v, err)
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("TE_TEST_INT", "42")
	if got := environment.IntOr("TE_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("TE_TEST_INT_BAD", "not-a-number")
	if got := environment.IntOr("TE_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("TE_TEST_DUR", "90s")
	if got := environment.DurationOr("TE_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	if got := environment.DurationOr("TE_TEST_DUR_UNSET", time.Minute); got != time.Minute {
		t.Fatalf("expected 1m default, got %s", got)
	}
}

func TestListOr(t *testing.T) {
	t.Setenv("TE_TEST_LIST", "website, database ,unix-account")
	got := environment.ListOr("TE_TEST_LIST", nil)
	want := []string{"website", "database", "unix-account"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
