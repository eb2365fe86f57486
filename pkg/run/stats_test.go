package run

import (
	"errors"
	"sync"
	"testing"

	"github.com/cloudposture/checks-export/pkg/partition"
	"github.com/cloudposture/checks-export/pkg/posture"
)

func TestStatsAddOutcome(t *testing.T) {
	s := NewStats()

	s.AddOutcome(partition.Outcome{
		Items: []posture.Check{
			{ID: "chk-1", Service: "s3"},
			{ID: "chk-2", Service: "s3"},
			{ID: "chk-3", Service: "ec2"},
			{ID: "chk-4"},
		},
		Warnings: []partition.Warning{
			{AccountID: "acc-1", Status: posture.StatusFailure, Reason: partition.ReasonCeiling},
		},
		Errors: []partition.SubError{
			{AccountID: "acc-1", Status: posture.StatusSuccess, Err: errors.New("boom")},
		},
	})

	if got := s.Warnings(); len(got) != 1 {
		t.Errorf("Warnings() = %v, want 1 entry", got)
	}
	if got := s.Errors(); len(got) != 1 {
		t.Errorf("Errors() = %v, want 1 entry", got)
	}

	services := s.DiscoveredServices()
	if len(services) != 2 || services[0] != "ec2" || services[1] != "s3" {
		t.Errorf("DiscoveredServices() = %v, want [ec2 s3]", services)
	}
}

func TestStatsConcurrentWorkers(t *testing.T) {
	s := NewStats()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddOutcome(partition.Outcome{
				Items:    []posture.Check{{ID: "chk", Service: "s3"}},
				Warnings: []partition.Warning{{Reason: partition.ReasonTruncated}},
			})
		}()
	}
	wg.Wait()

	if got := len(s.Warnings()); got != 10 {
		t.Errorf("Warnings() count = %d, want 10", got)
	}
}
