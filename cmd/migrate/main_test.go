package main

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
)

type fakeMigrator struct {
	upErr   error
	downErr error
	forced  int
	calls   []string
}

func (f *fakeMigrator) Up() error {
	f.calls = append(f.calls, "up")
	return f.upErr
}

func (f *fakeMigrator) Down() error {
	f.calls = append(f.calls, "down")
	return f.downErr
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	f.calls = append(f.calls, "version")
	return 1, false, nil
}

func (f *fakeMigrator) Force(version int) error {
	f.calls = append(f.calls, "force")
	f.forced = version
	return nil
}

func TestRunCommands(t *testing.T) {
	testCases := []struct {
		name    string
		command string
		args    []string
		m       *fakeMigrator
		wantErr bool
	}{
		{"up", "up", nil, &fakeMigrator{}, false},
		{"up no change", "up", nil, &fakeMigrator{upErr: migrate.ErrNoChange}, false},
		{"up failure", "up", nil, &fakeMigrator{upErr: errors.New("boom")}, true},
		{"down no change", "down", nil, &fakeMigrator{downErr: migrate.ErrNoChange}, false},
		{"version", "version", nil, &fakeMigrator{}, false},
		{"force", "force", []string{"1"}, &fakeMigrator{}, false},
		{"force without version", "force", nil, &fakeMigrator{}, true},
		{"force bad version", "force", []string{"one"}, &fakeMigrator{}, true},
		{"unknown", "sideways", nil, &fakeMigrator{}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := run(tc.m, tc.command, tc.args)
			if (err != nil) != tc.wantErr {
				t.Fatalf("run(%s) error = %v, wantErr %v", tc.command, err, tc.wantErr)
			}
		})
	}
}

func TestRunForceVersion(t *testing.T) {
	m := &fakeMigrator{}
	if err := run(m, "force", []string{"3"}); err != nil {
		t.Fatalf("run(force) failed: %v", err)
	}
	if m.forced != 3 {
		t.Errorf("forced = %d, want 3", m.forced)
	}
}

func TestResolveDatabaseURL(t *testing.T) {
	t.Setenv("CAMPUS_CONFIG", "")
	t.Setenv("CAMPUS_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "postgres://fallback")
	if got := resolveDatabaseURL(); got != "postgres://fallback" {
		t.Errorf("fallback = %q", got)
	}

	t.Setenv("CAMPUS_DATABASE_URL", "postgres://campus")
	if got := resolveDatabaseURL(); got != "postgres://campus" {
		t.Errorf("prefixed = %q", got)
	}
}
