package worker

import "fmt"

// Stats counts per-scene outcomes of one stage run. A stage succeeds as a
// whole when at least one scene succeeded or was already done.
type Stats struct {
	Total      int
	Successful int
	Skipped    int
	Failed     int
}

// Add folds another stage's counts into s.
func (s *Stats) Add(other Stats) {
	s.Total += other.Total
	s.Successful += other.Successful
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}

// Produced reports whether the stage left any usable output behind.
func (s Stats) Produced() bool {
	return s.Successful > 0 || s.Skipped > 0
}

func (s Stats) String() string {
	return fmt.Sprintf("%d total, %d successful, %d skipped, %d failed",
		s.Total, s.Successful, s.Skipped, s.Failed)
}
