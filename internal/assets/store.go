package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Stage directory names under the per-topic output root. The numeric
// prefixes keep the directories listed in pipeline order.
const (
	StageScripts  = "1_scripts"
	StageAudio    = "2_audio"
	StageImages   = "3_images"
	StageClips    = "4_clips"
	StageFinal    = "5_final"
	StageComplete = "6_complete"
)

var sceneIDPattern = regexp.MustCompile(`scene[_-]?(\d+)`)

// Store lays out and resolves the per-topic asset tree. Every stage writes
// scene-numbered files under its own directory so a re-run can detect and
// skip finished work.
type Store struct {
	root      string
	inputRoot string
}

// NewStore creates the asset store rooted at outputRoot/topicSlug and
// ensures all stage directories exist.
func NewStore(outputRoot, topicSlug string) (*Store, error) {
	root := filepath.Join(outputRoot, topicSlug)
	for _, stage := range []string{StageScripts, StageAudio, StageImages, StageClips, StageFinal, StageComplete} {
		if err := os.MkdirAll(filepath.Join(root, stage), 0755); err != nil {
			return nil, fmt.Errorf("failed to create stage directory %s: %w", stage, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the per-topic output directory.
func (s *Store) Root() string {
	return s.root
}

// SetInputRoot points reads of prior-stage assets at another per-topic
// tree. Writes and checkpoint checks stay in the output tree.
func (s *Store) SetInputRoot(root string) {
	s.inputRoot = root
}

// source resolves a stage file for reading. A copy in the input tree wins
// when an input root is set and the file exists there.
func (s *Store) source(stage, name string) string {
	if s.inputRoot != "" {
		p := filepath.Join(s.inputRoot, stage, name)
		if Exists(p) {
			return p
		}
	}
	return filepath.Join(s.root, stage, name)
}

// readDir resolves the directory a stage listing reads from. A non-empty
// input-tree stage directory wins over the output tree.
func (s *Store) readDir(stage string) string {
	if s.inputRoot != "" {
		dir := filepath.Join(s.inputRoot, stage)
		if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
			return dir
		}
	}
	return filepath.Join(s.root, stage)
}

// StoryboardSource returns the storyboard to read, preferring the input
// tree when one is configured.
func (s *Store) StoryboardSource() string {
	return s.source(StageScripts, "storyboard.json")
}

// ClipSource returns the silent clip the merge stage reads for a scene.
func (s *Store) ClipSource(sceneID int) string {
	return s.source(StageClips, fmt.Sprintf("scene_%02d.mp4", sceneID))
}

// AudioSource returns the narration file the merge stage reads for a scene.
func (s *Store) AudioSource(sceneID int) string {
	return s.source(StageAudio, fmt.Sprintf("scene_%02d.mp3", sceneID))
}

// StoryboardPath is where the generated storyboard JSON lives.
func (s *Store) StoryboardPath() string {
	return filepath.Join(s.root, StageScripts, "storyboard.json")
}

// AudioPath returns the narration file for a scene.
func (s *Store) AudioPath(sceneID int) string {
	return filepath.Join(s.root, StageAudio, fmt.Sprintf("scene_%02d.mp3", sceneID))
}

// ImagePath returns the path for one image variant of a scene.
func (s *Store) ImagePath(sceneID, variant int) string {
	return filepath.Join(s.root, StageImages, fmt.Sprintf("scene_%02d_%d.png", sceneID, variant))
}

// ClipPath returns the silent video clip for a scene.
func (s *Store) ClipPath(sceneID int) string {
	return filepath.Join(s.root, StageClips, fmt.Sprintf("scene_%02d.mp4", sceneID))
}

// FinalScenePath returns the merged (video+narration) file for a scene.
func (s *Store) FinalScenePath(sceneID int) string {
	return filepath.Join(s.root, StageFinal, fmt.Sprintf("scene_%02d_final.mp4", sceneID))
}

// CompletePath returns the concatenated output video.
func (s *Store) CompletePath() string {
	return filepath.Join(s.root, StageComplete, "final_video.mp4")
}

// ManifestPath returns the run manifest location.
func (s *Store) ManifestPath() string {
	return filepath.Join(s.root, "manifest.json")
}

// Exists reports whether a file exists and is non-empty. Zero-byte files
// count as missing so a crashed write does not satisfy a checkpoint.
func Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}

// SceneID extracts the numeric scene id from a filename. Returns -1 when
// the name carries no scene marker.
func SceneID(filename string) int {
	m := sceneIDPattern.FindStringSubmatch(strings.ToLower(filepath.Base(filename)))
	if m == nil {
		return -1
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return id
}

// ListClips returns the scene clips under 4_clips ordered by numeric scene
// id. Lexical order would put scene_10 before scene_2, so ids are parsed.
func (s *Store) ListClips() ([]string, error) {
	return s.listByScene(StageClips, ".mp4")
}

// ListFinalScenes returns the merged scene videos under 5_final ordered by
// numeric scene id.
func (s *Store) ListFinalScenes() ([]string, error) {
	return s.listByScene(StageFinal, ".mp4")
}

func (s *Store) listByScene(stage, ext string) ([]string, error) {
	dir := s.readDir(stage)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	type numbered struct {
		id   int
		path string
	}
	var files []numbered
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		id := SceneID(e.Name())
		if id < 0 {
			continue
		}
		files = append(files, numbered{id: id, path: filepath.Join(dir, e.Name())})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].id < files[j].id })

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// GroupImagesByScene scans 3_images and maps scene id to its image variants
// in sorted filename order. The first variant per scene is the one the
// video stage animates.
func (s *Store) GroupImagesByScene() (map[int][]string, error) {
	dir := s.readDir(StageImages)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	groups := make(map[int][]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
			continue
		}
		id := SceneID(e.Name())
		if id < 0 {
			continue
		}
		groups[id] = append(groups[id], filepath.Join(dir, e.Name()))
	}

	for id := range groups {
		sort.Strings(groups[id])
	}
	return groups, nil
}
