package photodex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/photodex/cluster"
	"github.com/hupe1980/photodex/dbscan"
	"github.com/hupe1980/photodex/geo"
	"github.com/hupe1980/photodex/hnsw"
	"github.com/hupe1980/photodex/search"
)

// Photo is one library item handed to the engine. Faces carries the face
// embeddings extracted upstream, one vector per detected face. Embedding is
// the optional photo-level vector used for semantic search; both spaces share
// the engine's dimension.
type Photo struct {
	ID        uint32
	FilePath  string
	Timestamp int64
	GPS       *geo.Coordinate
	Tags      []string
	OCRText   string
	Faces     [][]float32
	Embedding []float32
}

// Stats aggregates the state of all engine components.
type Stats struct {
	Photos   int
	Faces    int
	Geo      geo.Stats
	FaceIdx  hnsw.Stats
	Semantic hnsw.Stats
	Search   search.Stats
	Cluster  cluster.Stats
}

// Engine ties the geocoder, vector index, clusterer, retrieval engine and
// cluster manager into one photo organization pipeline.
type Engine struct {
	mu sync.Mutex

	opts    Options
	logger  *Logger
	metrics MetricsCollector

	geocoder *geo.Index

	// faces indexes one embedding per detected face, keyed by minted
	// embedding ids. semantic indexes one embedding per photo, keyed by
	// photo id, and backs the search engine's semantic signal.
	faces    *hnsw.Index
	semantic *hnsw.Index

	clusterer *dbscan.Clusterer
	searcher  *search.Engine
	manager   *cluster.Manager

	// photoFaces maps a photo to the embedding ids minted for its faces.
	photoFaces map[uint32][]uint32

	// embeddingPhoto is the reverse mapping.
	embeddingPhoto map[uint32]uint32

	nextEmbeddingID uint32

	// fittedIDs records the embedding order of the last full scan, aligned
	// with the clusterer's retained points.
	fittedIDs []uint32
}

// New creates an engine for face embeddings of the given dimension.
func New(dimension int, optFns ...func(o *Options)) (*Engine, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetricsCollector{}
	}
	if opts.EpsJoin == 0 {
		opts.EpsJoin = opts.Eps
	}

	hnswOptions := func(o *hnsw.Options) {
		o.M = opts.M
		o.EFConstruction = opts.EFConstruction
		o.EFSearch = opts.EFSearch
		o.Metric = opts.Metric
		o.Heuristic = opts.Heuristic
		o.RandomSeed = opts.RandomSeed
	}

	faces, err := hnsw.New(dimension, hnswOptions)
	if err != nil {
		return nil, translateError(err)
	}

	semantic, err := hnsw.New(dimension, hnswOptions)
	if err != nil {
		return nil, translateError(err)
	}

	clusterer, err := dbscan.New(func(o *dbscan.Options) {
		o.Eps = opts.Eps
		o.MinSamples = opts.MinSamples
		o.Metric = opts.Metric
	})
	if err != nil {
		return nil, translateError(err)
	}

	opts.Logger.Debug("engine configured",
		"dimension", dimension,
		"metric", opts.Metric,
		"eps", opts.Eps,
		"eps_join", opts.EpsJoin,
		"min_samples", opts.MinSamples,
	)

	return &Engine{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		geocoder: geo.New(func(o *geo.Options) {
			o.Logger = opts.Logger.Logger
		}),
		faces:     faces,
		semantic:  semantic,
		clusterer: clusterer,
		searcher: search.NewEngine(semantic, func(o *search.Options) {
			o.Logger = opts.Logger.Logger
		}),
		manager: cluster.NewManager(func(o *cluster.Options) {
			o.Logger = opts.Logger.Logger
			o.HistoryLimit = opts.HistoryLimit
			o.Compression = opts.SnapshotCompression
		}),
		photoFaces:     make(map[uint32][]uint32),
		embeddingPhoto: make(map[uint32]uint32),
	}, nil
}

// LoadBoundaries loads the administrative boundary set used for reverse
// geocoding. Replaces any previously loaded set.
func (e *Engine) LoadBoundaries(boundaries []geo.Boundary) error {
	return translateError(e.geocoder.LoadBoundaries(boundaries))
}

// ReverseGeocode resolves a coordinate against the loaded boundaries.
func (e *Engine) ReverseGeocode(c geo.Coordinate) (geo.LocationTag, error) {
	start := time.Now()
	tag, err := e.geocoder.ReverseGeocode(c)
	e.metrics.RecordGeocode(time.Since(start), err)

	return tag, translateError(err)
}

// IngestPhoto registers a photo: its GPS position is geocoded, its face
// embeddings enter the vector index, and its metadata becomes searchable.
// Person assignment happens later, when a clustering task runs.
func (e *Engine) IngestPhoto(ctx context.Context, p Photo) error {
	start := time.Now()
	err := e.ingest(p)
	e.metrics.RecordIngest(len(p.Faces), time.Since(start), err)
	e.logger.LogIngest(ctx, p.ID, len(p.Faces), err)

	return translateError(err)
}

func (e *Engine) ingest(p Photo) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.photoFaces[p.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicatePhoto, p.ID)
	}

	dim := e.faces.Dimension()
	for _, f := range p.Faces {
		if len(f) != dim {
			return &ErrDimensionMismatch{Expected: dim, Actual: len(f)}
		}
	}
	if p.Embedding != nil && len(p.Embedding) != dim {
		return &ErrDimensionMismatch{Expected: dim, Actual: len(p.Embedding)}
	}

	// Geocoding failures degrade to an untagged photo, never a failed ingest.
	var location string
	if p.GPS != nil {
		start := time.Now()
		tag, err := e.geocoder.ReverseGeocode(*p.GPS)
		e.metrics.RecordGeocode(time.Since(start), err)
		if err != nil {
			e.logger.Debug("geocode failed", "photo", p.ID, "err", err)
		} else {
			location = locationName(tag)
		}
	}

	faceIDs := make([]uint32, 0, len(p.Faces))
	for _, f := range p.Faces {
		id := e.nextEmbeddingID + 1
		if err := e.faces.Add(id, f); err != nil {
			return err
		}
		e.nextEmbeddingID = id
		e.embeddingPhoto[id] = p.ID
		faceIDs = append(faceIDs, id)
	}
	e.photoFaces[p.ID] = faceIDs

	if p.Embedding != nil {
		if err := e.semantic.Add(p.ID, p.Embedding); err != nil {
			return err
		}
	}

	e.searcher.AddRecord(search.Record{
		ID:        p.ID,
		FilePath:  p.FilePath,
		Timestamp: p.Timestamp,
		Location:  location,
		Tags:      p.Tags,
		OCRText:   p.OCRText,
	})

	return nil
}

// locationName picks the most useful single name from a location tag.
func locationName(tag geo.LocationTag) string {
	switch {
	case tag.City != "":
		return tag.City
	case tag.Province != "":
		return tag.Province
	default:
		return tag.Country
	}
}

// RunFullScan clusters every face embedding from scratch, replacing all
// person assignments. A cancelled scan keeps the assignments made so far.
func (e *Engine) RunFullScan(ctx context.Context) error {
	start := time.Now()
	taskID, res, err := e.fullScan(ctx)
	if res != nil {
		e.metrics.RecordClusterTask(res.NumClusters, res.NumNoise, time.Since(start), err)
		e.logger.LogClusterTask(ctx, taskID, res.NumClusters, res.NumNoise, err)
	} else {
		e.metrics.RecordClusterTask(0, 0, time.Since(start), err)
		e.logger.LogClusterTask(ctx, taskID, 0, 0, err)
	}

	return translateError(err)
}

func (e *Engine) fullScan(ctx context.Context) (uint32, *dbscan.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]uint32, 0, len(e.embeddingPhoto))
	for id := range e.embeddingPhoto {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	taskID, err := e.manager.SubmitFullScanTask(ids)
	if err != nil {
		return 0, nil, err
	}

	vectors := make([][]float32, len(ids))
	for i, id := range ids {
		v, _ := e.faces.Vector(id)
		vectors[i] = v
	}

	res, err := e.clusterer.FitPredict(vectors)
	if err != nil {
		_ = e.manager.FailCurrentTask()
		return taskID, nil, err
	}

	for i, id := range ids {
		if ctx.Err() != nil {
			_ = e.manager.CancelCurrentTask()
			return taskID, res, ctx.Err()
		}
		if err := e.manager.UpdateProgress(id, res.Labels[i]); err != nil {
			_ = e.manager.FailCurrentTask()
			return taskID, res, err
		}
	}

	e.fittedIDs = ids
	e.refreshPersonsLocked(e.allPhotoIDsLocked())

	return taskID, res, nil
}

// RunIncremental assigns the faces of the given photos against the last full
// scan without relabeling existing clusters. Requires a completed full scan.
func (e *Engine) RunIncremental(ctx context.Context, photoIDs []uint32) error {
	start := time.Now()
	taskID, assigned, err := e.incremental(ctx, photoIDs)
	e.metrics.RecordClusterTask(0, 0, time.Since(start), err)
	e.logger.LogClusterTask(ctx, taskID, assigned, 0, err)

	return translateError(err)
}

func (e *Engine) incremental(ctx context.Context, photoIDs []uint32) (uint32, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fitted := make(map[uint32]struct{}, len(e.fittedIDs))
	for _, id := range e.fittedIDs {
		fitted[id] = struct{}{}
	}

	var newIDs []uint32
	for _, photoID := range photoIDs {
		faces, ok := e.photoFaces[photoID]
		if !ok {
			return 0, 0, fmt.Errorf("%w: photo %d", ErrNotFound, photoID)
		}
		for _, fid := range faces {
			if _, seen := fitted[fid]; !seen {
				newIDs = append(newIDs, fid)
			}
		}
	}
	if len(newIDs) == 0 {
		return 0, 0, fmt.Errorf("%w: no new embeddings to assign", ErrInvalidParameter)
	}

	taskID, err := e.manager.SubmitIncrementalTask(newIDs)
	if err != nil {
		return 0, 0, err
	}

	// Assignments may have drifted from the fitted labels through merges and
	// splits, so rebuild the label view from the manager.
	existingLabels := make([]uint32, len(e.fittedIDs))
	for i, id := range e.fittedIDs {
		if cid, ok := e.manager.AssignmentOf(id); ok {
			existingLabels[i] = cid
		}
	}

	newPoints := make([][]float32, len(newIDs))
	for i, id := range newIDs {
		v, _ := e.faces.Vector(id)
		newPoints[i] = v
	}

	labels, err := e.clusterer.PredictIncremental(newPoints, existingLabels, e.opts.EpsJoin)
	if err != nil {
		_ = e.manager.FailCurrentTask()
		return taskID, 0, err
	}

	for i, id := range newIDs {
		if ctx.Err() != nil {
			_ = e.manager.CancelCurrentTask()
			return taskID, i, ctx.Err()
		}
		if err := e.manager.UpdateProgress(id, labels[i]); err != nil {
			_ = e.manager.FailCurrentTask()
			return taskID, i, err
		}
	}

	e.refreshPersonsLocked(photoIDs)

	return taskID, len(newIDs), nil
}

// Search answers a hybrid query over the photo library.
func (e *Engine) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	start := time.Now()
	results, err := e.searcher.Search(q)
	e.metrics.RecordSearch(q.K, time.Since(start), err)
	e.logger.LogSearch(ctx, q.K, len(results), err)

	return results, translateError(err)
}

// MergePersons folds person cluster b into a, for user-confirmed same-person
// corrections.
func (e *Engine) MergePersons(a, b uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	affected := e.memberPhotosLocked(b)

	if err := e.manager.MergeClusters(a, b); err != nil {
		return translateError(err)
	}

	e.refreshPersonsLocked(affected)
	return nil
}

// SplitPerson moves the member embeddings at the given indices out of a
// person cluster into a fresh one. Returns the new cluster id.
func (e *Engine) SplitPerson(personID uint32, outlierIndices []int) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	affected := e.memberPhotosLocked(personID)

	newID, err := e.manager.SplitCluster(personID, outlierIndices)
	if err != nil {
		return 0, translateError(err)
	}

	e.refreshPersonsLocked(affected)
	return newID, nil
}

// Persons lists all person cluster ids in ascending order.
func (e *Engine) Persons() []uint32 {
	return e.manager.ClusterIDs()
}

// PersonPhotos lists the photos containing at least one face of the given
// person, in ascending photo id order.
func (e *Engine) PersonPhotos(personID uint32) ([]uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	photos := e.memberPhotosLocked(personID)
	if len(photos) == 0 {
		return nil, fmt.Errorf("%w: person %d", ErrNotFound, personID)
	}

	return photos, nil
}

// CurrentTask reports the in-flight clustering task, if any.
func (e *Engine) CurrentTask() (cluster.TaskView, bool) {
	return e.manager.GetCurrentTaskStatus()
}

// TaskHistory returns the finished clustering tasks, oldest first.
func (e *Engine) TaskHistory() []cluster.Task {
	return e.manager.TaskHistory()
}

// ExportClustering serializes the clustering state for backup.
func (e *Engine) ExportClustering() ([]byte, error) {
	data, err := e.manager.ExportSnapshot()
	return data, translateError(err)
}

// ImportClustering restores a clustering snapshot and reconciles the person
// assignments of all indexed photos.
func (e *Engine) ImportClustering(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.manager.ImportSnapshot(data); err != nil {
		return translateError(err)
	}

	e.refreshPersonsLocked(e.allPhotoIDsLocked())
	return nil
}

// Stats returns an aggregate snapshot of all components.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		Photos:   len(e.photoFaces),
		Faces:    len(e.embeddingPhoto),
		Geo:      e.geocoder.Stats(),
		FaceIdx:  e.faces.Stats(),
		Semantic: e.semantic.Stats(),
		Search:   e.searcher.Stats(),
		Cluster:  e.manager.Stats(),
	}
}

func (e *Engine) allPhotoIDsLocked() []uint32 {
	ids := make([]uint32, 0, len(e.photoFaces))
	for id := range e.photoFaces {
		ids = append(ids, id)
	}
	return ids
}

// memberPhotosLocked maps a cluster's embeddings back to distinct photo ids,
// ascending.
func (e *Engine) memberPhotosLocked(personID uint32) []uint32 {
	seen := make(map[uint32]struct{})
	var photos []uint32
	for _, fid := range e.manager.ClusterMembers(personID) {
		photoID, ok := e.embeddingPhoto[fid]
		if !ok {
			continue
		}
		if _, dup := seen[photoID]; dup {
			continue
		}
		seen[photoID] = struct{}{}
		photos = append(photos, photoID)
	}
	sort.Slice(photos, func(i, j int) bool { return photos[i] < photos[j] })

	return photos
}

// refreshPersonsLocked recomputes the searchable person id of each photo from
// the manager's live assignments. A photo takes the cluster of its first
// non-noise face.
func (e *Engine) refreshPersonsLocked(photoIDs []uint32) {
	for _, photoID := range photoIDs {
		var personID uint32
		for _, fid := range e.photoFaces[photoID] {
			if cid, ok := e.manager.AssignmentOf(fid); ok && cid != cluster.Noise {
				personID = cid
				break
			}
		}

		if rec, ok := e.searcher.Record(photoID); ok && rec.PersonID != personID {
			_ = e.searcher.UpdatePersonID(photoID, personID)
		}
	}
}
