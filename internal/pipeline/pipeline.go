package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/TobiSchelling/TumorPatch/internal/annotation"
	"github.com/TobiSchelling/TumorPatch/internal/config"
	"github.com/TobiSchelling/TumorPatch/internal/database"
	"github.com/TobiSchelling/TumorPatch/internal/histology"
	"github.com/TobiSchelling/TumorPatch/internal/objects"
	"github.com/TobiSchelling/TumorPatch/internal/patch"
	"github.com/TobiSchelling/TumorPatch/internal/record"
	"github.com/TobiSchelling/TumorPatch/internal/region"
	"github.com/TobiSchelling/TumorPatch/internal/report"
	"github.com/TobiSchelling/TumorPatch/internal/slide"
	"github.com/TobiSchelling/TumorPatch/internal/tiles"
)

// Stage names reported in StageError.
const (
	StageValidate    = "validate"
	StageAnnotations = "annotations"
	StageDiscover    = "discover"
	StageSelect      = "select"
	StageJoin        = "join"
	StageSlide       = "slide"
	StageDecompose   = "decompose"
	StageExtract     = "extract"
	StagePersist     = "persist"
	StageProcess     = "process"
)

// StageError names the stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	RunID  string
	CaseID string
	Counts database.RunCounts
	Report string
	Steps  []StepResult
}

// Pipeline extracts patch features for the configured case.
type Pipeline struct {
	cfg    *config.Config
	db     *database.DB
	source annotation.Source
	now    func() time.Time
}

// New creates a pipeline reading annotations from the configured file.
func New(cfg *config.Config, db *database.DB) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		db:     db,
		source: annotation.NewGeoJSONFile(cfg.Annotations.Path),
		now:    time.Now,
	}
}

// WithSource replaces the annotation source.
func (p *Pipeline) WithSource(src annotation.Source) *Pipeline {
	p.source = src
	return p
}

// plan is the outcome of the selection steps.
type plan struct {
	regions  int
	selected map[tiles.Key]tiles.Record
	joined   map[tiles.Key]*objects.TileFeatureSet
}

// Run executes the full pipeline. The returned error is a *StageError.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	r := &Result{CaseID: p.cfg.Run.CaseID}

	if err := p.cfg.Validate(); err != nil {
		return r, fail(r, StageValidate, "Validate", err)
	}

	runID, err := p.db.CreateRun(ctx, p.cfg.Run.CaseID, p.cfg.Run.Annotator, p.cfg.Run.PatchSize)
	if err != nil {
		return r, fail(r, StagePersist, "Start", err)
	}
	r.RunID = runID
	log.Printf("Run %s: case %s, annotator %s, patch size %d", runID, p.cfg.Run.CaseID, p.cfg.Run.Annotator, p.cfg.Run.PatchSize)

	pl, err := p.prepare(ctx, r, false)
	if err != nil {
		p.finish(ctx, r, err)
		return r, err
	}

	log.Println("Step 5/6: Extracting patch features...")
	tally := report.NewTally()
	written, err := p.process(ctx, runID, pl.joined, tally)
	r.Counts.PatchesWritten = written
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Process", Err: err})
		p.finish(ctx, r, err)
		return r, err
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Process",
		Summary: fmt.Sprintf("Wrote %d patch records for %d tiles", written, len(pl.joined)),
	})

	log.Println("Step 6/6: Composing run report...")
	r.Report = report.Compose(report.Input{
		RunID:     runID,
		CaseID:    p.cfg.Run.CaseID,
		Annotator: p.cfg.Run.Annotator,
		PatchSize: p.cfg.Run.PatchSize,
		Regions:   pl.regions,
		Counts:    r.Counts,
		Tiles:     tally.Tiles(),
	})
	if err := p.finish(ctx, r, nil); err != nil {
		return r, fail(r, StagePersist, "Report", err)
	}
	r.Steps = append(r.Steps, StepResult{Name: "Report", Summary: "Run report stored"})
	return r, nil
}

// DryRun performs discovery, selection and joining and reports what a run
// would write, without reading pixels or touching the database.
func (p *Pipeline) DryRun(ctx context.Context) (*Result, error) {
	r := &Result{CaseID: p.cfg.Run.CaseID}

	if err := p.cfg.Validate(); err != nil {
		return r, fail(r, StageValidate, "Validate", err)
	}

	pl, err := p.prepare(ctx, r, true)
	if err != nil {
		return r, err
	}

	patches := 0
	for _, set := range pl.joined {
		cols, rows := patch.Grid(set.Tile.TileWidth, set.Tile.TileHeight, p.cfg.Run.PatchSize)
		patches += cols * rows
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Process",
		Summary: fmt.Sprintf("[dry-run] Would write %d patch records for %d tiles", patches, len(pl.joined)),
	})
	return r, nil
}

// prepare runs the annotation, discovery, selection and join steps.
func (p *Pipeline) prepare(ctx context.Context, r *Result, dry bool) (*plan, error) {
	prefix := ""
	if dry {
		prefix = "[dry-run] "
	}
	caseID := p.cfg.Run.CaseID

	log.Println("Step 1/6: Loading tumor annotations...")
	markups, err := p.source.TumorRegions(ctx, caseID, annotation.ExecutionID(p.cfg.Run.Annotator))
	if err != nil {
		return nil, fail(r, StageAnnotations, "Annotations", err)
	}
	selector, err := region.FromPoints(markups)
	if err != nil {
		return nil, fail(r, StageAnnotations, "Annotations", err)
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Annotations",
		Summary: fmt.Sprintf("%s%d tumor regions by %s", prefix, selector.Len(), p.cfg.Run.Annotator),
	})

	log.Println("Step 2/6: Discovering tile data...")
	files, err := tiles.Discover(p.cfg.SlideDir())
	if err != nil {
		return nil, fail(r, StageDiscover, "Discover", err)
	}
	set, err := tiles.Load(files.Metadata)
	if err != nil {
		return nil, fail(r, StageDiscover, "Discover", err)
	}
	r.Counts.TilesScanned = len(files.Metadata)
	r.Counts.Duplicates = set.Duplicates
	r.Steps = append(r.Steps, StepResult{
		Name: "Discover",
		Summary: fmt.Sprintf("%sFound %d tiles (%d duplicates) and %d object tables",
			prefix, set.Len(), set.Duplicates, len(files.Tables)),
	})

	log.Println("Step 3/6: Selecting tiles inside tumor regions...")
	selected := selector.Select(set)
	r.Counts.TilesSelected = len(selected)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Select",
		Summary: fmt.Sprintf("%s%d of %d tiles overlap a tumor region", prefix, len(selected), set.Len()),
	})

	log.Println("Step 4/6: Joining object tables...")
	joined, err := objects.Join(selected, files.Tables)
	if err != nil {
		return nil, fail(r, StageJoin, "Join", err)
	}
	r.Counts.TilesJoined = len(joined)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Join",
		Summary: fmt.Sprintf("%s%d tiles have object data", prefix, len(joined)),
	})

	return &plan{regions: selector.Len(), selected: selected, joined: joined}, nil
}

// process decomposes the joined tiles into patches, extracts their pixel
// statistics on a worker pool and persists the records from a single
// collector. The first failure cancels the remaining work.
func (p *Pipeline) process(ctx context.Context, runID string, sets map[tiles.Key]*objects.TileFeatureSet, tally *report.Tally) (int, error) {
	path := slide.Path(p.cfg.SlideDir(), p.cfg.Run.CaseID, p.cfg.Data.SlideExtension)
	sl, err := slide.Open(path, p.cfg.Slide.MPPX, p.cfg.Slide.MPPY)
	if err != nil {
		return 0, &StageError{Stage: StageSlide, Err: err}
	}
	defer sl.Close()

	width, height := sl.Dimensions()
	mppX, mppY := sl.MPP()
	builder := &record.Builder{Provenance: record.Provenance{
		RunID:       runID,
		CaseID:      p.cfg.Run.CaseID,
		Annotator:   p.cfg.Run.Annotator,
		ImageWidth:  width,
		ImageHeight: height,
		MPPX:        mppX,
		MPPY:        mppY,
		PatchSize:   p.cfg.Run.PatchSize,
	}}
	log.Printf("Slide %dx%d, mpp %.4f x %.4f, patch area %.4f", width, height, mppX, mppY, builder.Provenance.PatchArea())

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	abort := func(stage string, err error) {
		cancel(&StageError{Stage: stage, Err: err})
	}

	workers := max(p.cfg.Processing.Workers, 1)
	jobs := make(chan patch.Patch, workers)
	results := make(chan *database.PatchFeature, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for pt := range jobs {
				stats, err := histology.Extract(ctx, sl, pt.MinX, pt.MinY, pt.Size)
				if err != nil {
					abort(StageExtract, err)
					continue
				}
				select {
				case results <- builder.Build(pt, stats, p.now()):
				case <-ctx.Done():
				}
			}
		}()
	}
	go func() {
		defer close(results)
		wg.Wait()
	}()

	go func() {
		defer close(jobs)
		opts := patch.Options{Size: p.cfg.Run.PatchSize, SkipMalformed: p.cfg.Processing.SkipMalformedObjects}
		for _, key := range sortedKeys(sets) {
			patches, err := patch.Decompose(sets[key], opts)
			if err != nil {
				abort(StageDecompose, err)
				return
			}
			for _, pt := range patches {
				select {
				case jobs <- pt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	written := 0
	for f := range results {
		if ctx.Err() != nil {
			continue
		}
		if err := p.db.InsertPatchFeature(ctx, f); err != nil {
			abort(StagePersist, err)
			continue
		}
		tally.Add(f)
		written++
		if written%1000 == 0 {
			log.Printf("  %d patch records written", written)
		}
	}

	if err := context.Cause(ctx); err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return written, se
		}
		return written, &StageError{Stage: StageProcess, Err: err}
	}
	return written, nil
}

func (p *Pipeline) finish(ctx context.Context, r *Result, runErr error) error {
	status := database.StatusCompleted
	if runErr != nil {
		status = database.StatusFailed
	}
	// The run row is finalized even when the run context was cancelled.
	err := p.db.FinishRun(context.WithoutCancel(ctx), r.RunID, status, r.Counts, runErr, r.Report)
	if err != nil {
		log.Printf("Warning: could not finalize run %s: %v", r.RunID, err)
	}
	return err
}

func fail(r *Result, stage, step string, err error) error {
	se := &StageError{Stage: stage, Err: err}
	r.Steps = append(r.Steps, StepResult{Name: step, Err: se})
	return se
}

func sortedKeys(sets map[tiles.Key]*objects.TileFeatureSet) []tiles.Key {
	keys := make([]tiles.Key, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
