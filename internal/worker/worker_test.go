package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/omnicomni/storyreel/internal/assets"
	"github.com/omnicomni/storyreel/internal/gpu"
	"github.com/omnicomni/storyreel/internal/models"
	"github.com/omnicomni/storyreel/internal/services"
)

func testBoard(sceneCount int) *models.Storyboard {
	board := &models.Storyboard{Topic: "test", Style: "documentary"}
	for i := 1; i <= sceneCount; i++ {
		board.Scenes = append(board.Scenes, models.Scene{
			SceneID:       i,
			VisualSubject: fmt.Sprintf("subject %d", i),
			AudioText:     fmt.Sprintf("Narration for scene %d.", i),
			Duration:      5,
		})
	}
	return board
}

func testStore(t *testing.T) *assets.Store {
	t.Helper()
	s, err := assets.NewStore(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

// fakeImages counts calls and can fail selected seeds.
type fakeImages struct {
	calls     int
	failScene map[int]bool
	seeds     []int
}

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string, seed, size int) ([]byte, error) {
	f.calls++
	f.seeds = append(f.seeds, seed)
	sceneID := (seed - 1000) / 100
	if f.failScene[sceneID] {
		return nil, errors.New("backend unavailable")
	}
	return []byte("png-bytes"), nil
}

func TestImageWorkerRendersAllScenes(t *testing.T) {
	store := testStore(t)
	fake := &fakeImages{}
	w := NewImageWorker(fake, store, 2, 1000, 512)

	stats := w.Run(context.Background(), testBoard(3))
	if stats.Successful != 3 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %s", stats.String())
	}
	if fake.calls != 6 {
		t.Errorf("expected 6 renders (3 scenes x 2 variants), got %d", fake.calls)
	}
	if !assets.Exists(store.ImagePath(2, 1)) {
		t.Error("expected scene 2 variant 1 on disk")
	}
}

func TestImageWorkerSecondRunSkipsEverything(t *testing.T) {
	store := testStore(t)
	board := testBoard(2)

	first := &fakeImages{}
	NewImageWorker(first, store, 1, 1000, 512).Run(context.Background(), board)

	second := &fakeImages{}
	stats := NewImageWorker(second, store, 1, 1000, 512).Run(context.Background(), board)

	if second.calls != 0 {
		t.Errorf("second run invoked the backend %d times, want 0", second.calls)
	}
	if stats.Skipped != 2 || stats.Successful != 0 {
		t.Errorf("unexpected stats: %s", stats.String())
	}
}

func TestImageWorkerForceRerenders(t *testing.T) {
	store := testStore(t)
	board := testBoard(2)

	NewImageWorker(&fakeImages{}, store, 1, 1000, 512).Run(context.Background(), board)

	fake := &fakeImages{}
	w := NewImageWorker(fake, store, 1, 1000, 512)
	w.Force = true
	stats := w.Run(context.Background(), board)

	if fake.calls != 2 {
		t.Errorf("force run invoked the backend %d times, want 2", fake.calls)
	}
	if stats.Successful != 2 || stats.Skipped != 0 {
		t.Errorf("unexpected stats: %s", stats.String())
	}
}

func TestImageWorkerIsolatesFailures(t *testing.T) {
	store := testStore(t)
	fake := &fakeImages{failScene: map[int]bool{2: true}}
	w := NewImageWorker(fake, store, 1, 1000, 512)

	stats := w.Run(context.Background(), testBoard(3))
	if stats.Successful != 2 || stats.Failed != 1 {
		t.Fatalf("expected 2 ok / 1 failed, got %s", stats.String())
	}
	if !assets.Exists(store.ImagePath(3, 0)) {
		t.Error("scene 3 should have rendered despite scene 2 failing")
	}
}

func TestImageWorkerDeterministicSeeds(t *testing.T) {
	store := testStore(t)
	fake := &fakeImages{}
	NewImageWorker(fake, store, 2, 1000, 512).Run(context.Background(), testBoard(1))

	want := []int{1100, 1101}
	if len(fake.seeds) != len(want) {
		t.Fatalf("expected %d seeds, got %d", len(want), len(fake.seeds))
	}
	for i, s := range want {
		if fake.seeds[i] != s {
			t.Errorf("seed %d: got %d, want %d", i, fake.seeds[i], s)
		}
	}
}

// fakeNarrator counts calls and fails on demand.
type fakeNarrator struct {
	calls    int
	failText string
}

func (f *fakeNarrator) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	f.calls++
	if text == f.failText {
		return nil, errors.New("tts rejected")
	}
	return []byte("mp3-bytes"), nil
}

func TestAudioWorkerSkipsExisting(t *testing.T) {
	store := testStore(t)
	board := testBoard(2)

	first := &fakeNarrator{}
	w := NewAudioWorker(first, store, "en-US-ChristopherNeural")
	w.delay = 0
	w.Run(context.Background(), board)

	second := &fakeNarrator{}
	w2 := NewAudioWorker(second, store, "en-US-ChristopherNeural")
	w2.delay = 0
	stats := w2.Run(context.Background(), board)

	if second.calls != 0 {
		t.Errorf("second run called TTS %d times, want 0", second.calls)
	}
	if stats.Skipped != 2 {
		t.Errorf("unexpected stats: %s", stats.String())
	}
}

func TestAudioWorkerIsolatesFailures(t *testing.T) {
	store := testStore(t)
	fake := &fakeNarrator{failText: "Narration for scene 1."}
	w := NewAudioWorker(fake, store, "en-US-ChristopherNeural")
	w.delay = 0

	stats := w.Run(context.Background(), testBoard(2))
	if stats.Failed != 1 || stats.Successful != 1 {
		t.Fatalf("expected 1 ok / 1 failed, got %s", stats.String())
	}
	if assets.Exists(store.AudioPath(1)) {
		t.Error("failed scene should have no narration file")
	}
	if !assets.Exists(store.AudioPath(2)) {
		t.Error("scene 2 should have narration despite scene 1 failing")
	}
}

func TestStatsAddAndProduced(t *testing.T) {
	var total Stats
	total.Add(Stats{Total: 3, Successful: 2, Failed: 1})
	total.Add(Stats{Total: 3, Skipped: 3})

	if total.Total != 6 || total.Successful != 2 || total.Skipped != 3 || total.Failed != 1 {
		t.Errorf("unexpected totals: %s", total.String())
	}
	if !total.Produced() {
		t.Error("stats with successes should report output")
	}
	if (Stats{Total: 2, Failed: 2}).Produced() {
		t.Error("all-failed stats should not report output")
	}
}

// fakeVideos counts calls and can be told to fail.
type fakeVideos struct {
	calls int
	fail  bool
	reqs  []services.VideoRequest
}

func (f *fakeVideos) GenerateVideo(ctx context.Context, req services.VideoRequest) ([]byte, error) {
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.fail {
		return nil, errors.New("backend unavailable")
	}
	return []byte("mp4-bytes"), nil
}

// fakeAnimator records fallback renders and writes the output file.
type fakeAnimator struct {
	calls int
}

func (f *fakeAnimator) AnimateImage(ctx context.Context, imagePath, outputPath string, durationSec float64, fps int) error {
	f.calls++
	return os.WriteFile(outputPath, []byte("animated"), 0644)
}

// fakeMemory is a memory provider with a fixed amount of free memory.
type fakeMemory struct {
	freeGB float64
}

func (f *fakeMemory) Snapshot(ctx context.Context) (gpu.Snapshot, error) {
	return gpu.Snapshot{TotalGB: 64, FreeGB: f.freeGB, Device: "fake"}, nil
}

func (f *fakeMemory) ReleaseCached(ctx context.Context) error { return nil }
func (f *fakeMemory) ReleaseIPC(ctx context.Context) error    { return nil }

func sceneImages(t *testing.T, store *assets.Store, sceneCount int) {
	t.Helper()
	for i := 1; i <= sceneCount; i++ {
		if err := os.WriteFile(store.ImagePath(i, 0), []byte("png-bytes"), 0644); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
}

func newVideoWorker(generator services.VideoGenerator, animator StillAnimator, store *assets.Store, freeGB float64) *VideoWorker {
	memory := gpu.NewManager(&fakeMemory{freeGB: freeGB})
	return NewVideoWorker(generator, animator, store, memory, 1000, 10.0, 127, 25, 6)
}

func TestVideoWorkerSecondRunSkipsEverything(t *testing.T) {
	store := testStore(t)
	sceneImages(t, store, 2)
	board := testBoard(2)
	gen := &fakeVideos{}
	anim := &fakeAnimator{}

	w := newVideoWorker(gen, anim, store, 64)
	stats := w.Run(context.Background(), board)
	if stats.Successful != 2 || gen.calls != 2 {
		t.Fatalf("first run: %s with %d backend calls", stats.String(), gen.calls)
	}

	stats = w.Run(context.Background(), board)
	if stats.Skipped != 2 || stats.Successful != 0 {
		t.Errorf("second run should skip everything, got %s", stats.String())
	}
	if gen.calls != 2 {
		t.Errorf("second run made %d new backend calls, want 0", gen.calls-2)
	}
	if anim.calls != 0 {
		t.Errorf("fallback ran %d times with a healthy backend", anim.calls)
	}
}

func TestVideoWorkerDeterministicSeeds(t *testing.T) {
	store := testStore(t)
	sceneImages(t, store, 2)
	gen := &fakeVideos{}

	newVideoWorker(gen, &fakeAnimator{}, store, 64).Run(context.Background(), testBoard(2))

	if len(gen.reqs) != 2 || gen.reqs[0].Seed != 1001 || gen.reqs[1].Seed != 1002 {
		t.Errorf("seeds not derived from base seed and scene id: %+v", gen.reqs)
	}
}

func TestVideoWorkerFallsBackToStillAnimation(t *testing.T) {
	store := testStore(t)
	sceneImages(t, store, 2)
	gen := &fakeVideos{fail: true}
	anim := &fakeAnimator{}

	stats := newVideoWorker(gen, anim, store, 64).Run(context.Background(), testBoard(2))
	if stats.Successful != 2 {
		t.Errorf("fallback should rescue every scene, got %s", stats.String())
	}
	if anim.calls != 2 {
		t.Errorf("still animation ran %d times, want 2", anim.calls)
	}
}

func TestVideoWorkerOutOfMemoryFallsBack(t *testing.T) {
	store := testStore(t)
	sceneImages(t, store, 1)
	gen := &fakeVideos{}
	anim := &fakeAnimator{}

	stats := newVideoWorker(gen, anim, store, 0.5).Run(context.Background(), testBoard(1))
	if stats.Successful != 1 || anim.calls != 1 {
		t.Errorf("out of memory should animate the still, got %s with %d fallback calls", stats.String(), anim.calls)
	}
	if gen.calls != 0 {
		t.Errorf("backend called %d times with no memory available", gen.calls)
	}
}

func TestVideoWorkerNilGeneratorUsesAnimator(t *testing.T) {
	store := testStore(t)
	sceneImages(t, store, 1)
	anim := &fakeAnimator{}

	stats := newVideoWorker(nil, anim, store, 64).Run(context.Background(), testBoard(1))
	if stats.Successful != 1 || anim.calls != 1 {
		t.Errorf("nil backend should animate stills, got %s with %d fallback calls", stats.String(), anim.calls)
	}
}

func TestVideoWorkerFailsScenesWithoutImages(t *testing.T) {
	store := testStore(t)
	sceneImages(t, store, 1)
	gen := &fakeVideos{}

	stats := newVideoWorker(gen, &fakeAnimator{}, store, 64).Run(context.Background(), testBoard(2))
	if stats.Successful != 1 || stats.Failed != 1 {
		t.Errorf("scene without an image must fail alone, got %s", stats.String())
	}
	if gen.calls != 1 {
		t.Errorf("backend called %d times, want 1", gen.calls)
	}
}
