package main

import (
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"
)

// MockSchema records the commands it receives.
type MockSchema struct {
	calls []string
	err   error
}

func (s *MockSchema) Up() error {
	s.calls = append(s.calls, "up")
	return s.err
}

func (s *MockSchema) Steps(n int) error {
	if n == -1 {
		s.calls = append(s.calls, "steps:-1")
	}
	return s.err
}

func (s *MockSchema) Down() error {
	s.calls = append(s.calls, "down")
	return s.err
}

func (s *MockSchema) Version() (uint, bool, error) {
	s.calls = append(s.calls, "version")
	return 1, false, s.err
}

func (s *MockSchema) Force(version int) error {
	if version == 3 {
		s.calls = append(s.calls, "force:3")
	}
	return s.err
}

func TestRun(t *testing.T) {
	tests := []struct {
		args    []string
		want    []string
		wantErr bool
	}{
		{args: []string{"up"}, want: []string{"up"}},
		{args: []string{"down"}, want: []string{"steps:-1"}},
		{args: []string{"down-all"}, want: []string{"down"}},
		{args: []string{"version"}, want: []string{"version"}},
		{args: []string{"force", "3"}, want: []string{"force:3"}},
		{args: []string{"force"}, wantErr: true},
		{args: []string{"force", "x"}, wantErr: true},
		{args: []string{"sideways"}, wantErr: true},
		{args: nil, wantErr: true},
	}

	for _, tt := range tests {
		s := &MockSchema{}
		err := run(tt.args, s, zap.NewNop())
		if (err != nil) != tt.wantErr {
			t.Errorf("run(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			continue
		}
		if !reflect.DeepEqual(s.calls, tt.want) {
			t.Errorf("run(%v) calls = %v, want %v", tt.args, s.calls, tt.want)
		}
	}
}

func TestRun_PropagatesError(t *testing.T) {
	boom := errors.New("dirty database")
	if err := run([]string{"up"}, &MockSchema{err: boom}, zap.NewNop()); !errors.Is(err, boom) {
		t.Errorf("Expected %v, got %v", boom, err)
	}
}
