package task

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestLifecycle(t *testing.T) {
	s := NewStore()
	created, err := s.Create("a")
	if err != nil {
		t.Fatalf("Create() err = %v; want nil", err)
	}
	if created.Status != Queued {
		t.Fatalf("Create() status = %s; want %s", created.Status, Queued)
	}
	if _, err := s.Start("a"); err != nil {
		t.Fatalf("Start() err = %v; want nil", err)
	}
	track := NewTrack("t1", "https://example.com/a.mp3", DefaultTitle, []string{"jazz"}, nil, 10, TypeGenerated)
	if _, err := s.Succeed("a", track); err != nil {
		t.Fatalf("Succeed() err = %v; want nil", err)
	}
	got, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get() err = %v; want nil", err)
	}
	if got.Status != Succeeded {
		t.Errorf("status = %s; want %s", got.Status, Succeeded)
	}
	if got.AudioURL != "https://example.com/a.mp3" {
		t.Errorf("audio url = %q; want %q", got.AudioURL, "https://example.com/a.mp3")
	}
	if got.Result == nil || got.Result.ID != "t1" {
		t.Errorf("result = %+v; want track t1", got.Result)
	}
	if len(got.Result.Moods) != 0 || got.Result.Moods == nil {
		t.Errorf("moods = %#v; want empty non-nil slice", got.Result.Moods)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := NewStore()
	if _, err := s.Create("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("a"); !errors.Is(err, ErrExists) {
		t.Fatalf("Create() err = %v; want %v", err, ErrExists)
	}
}

func TestGetUnknown(t *testing.T) {
	s := NewStore()
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() err = %v; want %v", err, ErrNotFound)
	}
	if _, err := s.Start("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Start() err = %v; want %v", err, ErrNotFound)
	}
}

func TestTransitions(t *testing.T) {
	track := NewTrack("t", "https://x/y.mp3", DefaultTitle, nil, nil, 10, TypeGenerated)
	tests := []struct {
		name    string
		steps   func(s *Store) error
		wantErr error
	}{
		{
			name: "skip running",
			steps: func(s *Store) error {
				_, err := s.Succeed("a", track)
				return err
			},
			wantErr: ErrTransition,
		},
		{
			name: "run twice",
			steps: func(s *Store) error {
				if _, err := s.Start("a"); err != nil {
					return err
				}
				_, err := s.Start("a")
				return err
			},
			wantErr: ErrTransition,
		},
		{
			name: "leave terminal",
			steps: func(s *Store) error {
				if _, err := s.Start("a"); err != nil {
					return err
				}
				if _, err := s.Fail("a", "boom"); err != nil {
					return err
				}
				_, err := s.Succeed("a", track)
				return err
			},
			wantErr: ErrTransition,
		},
		{
			name: "back to queued",
			steps: func(s *Store) error {
				if _, err := s.Start("a"); err != nil {
					return err
				}
				_, err := s.Update("a", Queued)
				return err
			},
			wantErr: ErrTransition,
		},
		{
			name: "failed without message",
			steps: func(s *Store) error {
				if _, err := s.Start("a"); err != nil {
					return err
				}
				_, err := s.Fail("a", "")
				return err
			},
			wantErr: ErrInvalid,
		},
		{
			name: "succeeded without result",
			steps: func(s *Store) error {
				if _, err := s.Start("a"); err != nil {
					return err
				}
				_, err := s.Update("a", Succeeded)
				return err
			},
			wantErr: ErrInvalid,
		},
		{
			name: "succeeded with error",
			steps: func(s *Store) error {
				if _, err := s.Start("a"); err != nil {
					return err
				}
				_, err := s.Update("a", Succeeded, WithResult(track), WithError("boom"))
				return err
			},
			wantErr: ErrInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			if _, err := s.Create("a"); err != nil {
				t.Fatal(err)
			}
			if err := tt.steps(s); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v; want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRejectedUpdateKeepsState(t *testing.T) {
	s := NewStore()
	if _, err := s.Create("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Start("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Fail("a", ""); err == nil {
		t.Fatal("Fail() err = nil; want error")
	}
	got, _ := s.Get("a")
	if got.Status != Running {
		t.Fatalf("status = %s; want %s", got.Status, Running)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := NewStore()
	created, _ := s.Create("a")
	created.Status = Failed
	got, _ := s.Get("a")
	if got.Status != Queued {
		t.Fatalf("status = %s; want %s", got.Status, Queued)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	n := 50
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("task-%02d", i)
		if _, err := s.Create(id); err != nil {
			t.Fatal(err)
		}
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Start(id); err != nil {
				t.Error(err)
				return
			}
			if _, err := s.Fail(id, fmt.Sprintf("error %d", i)); err != nil {
				t.Error(err)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := s.Get(id); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()
	tasks := s.List()
	if len(tasks) != n {
		t.Fatalf("List() len = %d; want %d", len(tasks), n)
	}
	for i, v := range tasks {
		want := fmt.Sprintf("error %d", i)
		if v.Status != Failed || v.Error != want {
			t.Errorf("task %s = %s %q; want failed %q", v.ID, v.Status, v.Error, want)
		}
	}
}
