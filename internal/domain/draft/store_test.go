package draft

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStoreOwnership(t *testing.T) {
	s := NewStore(DefaultStoreConfig(), nil)
	v := s.Create("alice")

	if _, err := s.View("bob", v.ID); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("other users must not see the draft, got %v", err)
	}
	if _, err := s.View("alice", v.ID); err != nil {
		t.Errorf("owner view: %v", err)
	}
}

func TestStoreUpdateReturnsViewOnError(t *testing.T) {
	s := NewStore(DefaultStoreConfig(), nil)
	v := s.Create("alice")

	got, err := s.Update("alice", v.ID, func(d *Draft) error {
		if _, err := d.SetDoctorInfo(DoctorInfo{DoctorID: "doc-1"}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got.SectionErrors[SectionDoctor]["name"] == "" {
		t.Errorf("expected name error in view, got %v", got.SectionErrors)
	}
}

func TestStoreSubmit(t *testing.T) {
	s := NewStore(DefaultStoreConfig(), nil)
	v := s.Create("alice")

	err := s.Submit("alice", v.ID, func(d *Draft) error { return nil })
	if !errors.Is(err, ErrIncompleteDraft) {
		t.Fatalf("expected ErrIncompleteDraft, got %v", err)
	}

	_, _ = s.Update("alice", v.ID, func(d *Draft) error {
		_, _ = d.SetDoctorInfo(DoctorInfo{DoctorID: "doc-1"})
		_, _ = d.SetPatientInfo(PatientInfo{PatientID: "pat-1", Age: 300})
		return nil
	})

	persisted := false
	err = s.Submit("alice", v.ID, func(d *Draft) error {
		persisted = d.Prescription().PatientInfo.PatientID == "pat-1"
		return nil
	})
	if err != nil {
		t.Fatalf("validation errors must not block submission: %v", err)
	}
	if !persisted {
		t.Error("persist should see the draft content")
	}
	if s.Len() != 0 {
		t.Error("submitted draft should be removed")
	}
}

func TestStoreSubmitKeepsDraftOnPersistFailure(t *testing.T) {
	s := NewStore(DefaultStoreConfig(), nil)
	v := s.Create("alice")
	_, _ = s.Update("alice", v.ID, func(d *Draft) error {
		_, _ = d.SetDoctorInfo(DoctorInfo{DoctorID: "doc-1", Name: "Dr A"})
		_, _ = d.SetPatientInfo(PatientInfo{PatientID: "pat-1", Name: "P"})
		return nil
	})

	err := s.Submit("alice", v.ID, func(d *Draft) error { return errors.New("db down") })
	if err == nil {
		t.Fatal("expected persist error")
	}
	if _, err := s.View("alice", v.ID); err != nil {
		t.Errorf("draft should survive a failed submit: %v", err)
	}
}

func TestStoreDiscard(t *testing.T) {
	s := NewStore(DefaultStoreConfig(), nil)
	v := s.Create("alice")
	if err := s.Discard("alice", v.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.View("alice", v.ID); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("expected ErrDraftNotFound, got %v", err)
	}
}

func TestStoreSweep(t *testing.T) {
	s := NewStore(StoreConfig{TTL: time.Minute, SweepInterval: time.Hour}, nil)
	s.Create("alice")
	s.Create("bob")

	expired := 0
	s.OnExpire = func(n int) { expired = n }

	if n := s.Sweep(); n != 0 {
		t.Errorf("fresh drafts should survive, swept %d", n)
	}
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if n := s.Sweep(); n != 2 || expired != 2 {
		t.Errorf("expected 2 expired, got %d (callback %d)", n, expired)
	}
	if s.Len() != 0 {
		t.Error("store should be empty")
	}
}

func TestStoreConcurrentUpdates(t *testing.T) {
	s := NewStore(DefaultStoreConfig(), nil)
	v := s.Create("alice")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update("alice", v.ID, func(d *Draft) error {
				_, err := d.AddMedication()
				if err != nil {
					return err
				}
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := s.View("alice", v.ID)
	// Only the first add succeeds: every later add sees an invalid blank row.
	if n := len(got.Prescription.Diagnosis.Medications); n != 1 {
		t.Errorf("expected exactly one row, got %d", n)
	}
}

func TestNavigation(t *testing.T) {
	d := New("u1")
	if err := d.Prev(); err != nil || d.currentTab != TabDoctor {
		t.Errorf("prev on first tab should stay, got %s %v", d.currentTab, err)
	}
	for i := 0; i < 10; i++ {
		_ = d.Next()
	}
	if d.currentTab != TabPreview {
		t.Errorf("expected preview, got %s", d.currentTab)
	}
	if err := d.GoTo("billing"); !errors.Is(err, ErrUnknownTab) {
		t.Errorf("expected ErrUnknownTab, got %v", err)
	}
	if got := d.View().Visited; len(got) != len(tabOrder) {
		t.Errorf("expected all tabs visited, got %v", got)
	}
}

func TestSectionValidation(t *testing.T) {
	d := New("u1")
	errs, err := d.SetPatientInfo(PatientInfo{PatientID: "p1", Name: "Ann", Age: 200, Gender: "x", Phone: "12"})
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"age", "gender", "phone"} {
		if errs[f] == "" {
			t.Errorf("expected error on %s, got %v", f, errs)
		}
	}
	if d.rx.PatientInfo.Age != 200 {
		t.Error("invalid input is stored, not rejected")
	}

	errs, _ = d.SetAdvice(Advice{FollowUpDate: "tomorrow"})
	if errs["follow_up_date"] == "" {
		t.Errorf("expected date error, got %v", errs)
	}
	errs, _ = d.SetAdvice(Advice{FollowUpDate: "2026-11-02"})
	if errs != nil {
		t.Errorf("expected valid advice, got %v", errs)
	}
	if _, ok := d.View().SectionErrors[SectionAdvice]; ok {
		t.Error("fixed section should clear its errors")
	}

	errs, _ = d.SetDiagnosisSummary(DiagnosisSummary{DiagnosisList: []string{" Fever ", "", "  "}})
	if errs != nil || len(d.rx.Diagnosis.DiagnosisList) != 1 || d.rx.Diagnosis.DiagnosisList[0] != "Fever" {
		t.Errorf("unexpected diagnosis list %v", d.rx.Diagnosis.DiagnosisList)
	}
}
