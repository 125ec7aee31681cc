// Package photodex is an on-device photo organization engine. It groups face
// embeddings into person clusters, resolves GPS coordinates to place names
// without network access, and answers hybrid metadata plus semantic queries
// over the photo library.
//
// The engine is built from five parts: a geocoder over administrative
// boundary polygons (geo), an approximate nearest neighbor index over face
// embeddings (hnsw), a density clusterer (dbscan), a hybrid retrieval engine
// (search), and a cluster manager that serializes all clustering mutation
// (cluster). Embedding extraction is out of scope; embeddings arrive as
// opaque float32 vectors.
//
// # Basic Usage
//
//	engine, err := photodex.New(512)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	_ = engine.LoadBoundaries(boundaries)
//
//	err = engine.IngestPhoto(ctx, photodex.Photo{
//	    ID:        1,
//	    FilePath:  "/photos/beach.jpg",
//	    Timestamp: time.Now().Unix(),
//	    GPS:       &geo.Coordinate{Lat: 24.48, Lon: 118.08},
//	    Faces:     [][]float32{faceEmbedding},
//	})
//
//	_ = engine.RunFullScan(ctx)
//
//	results, err := engine.Search(ctx, search.Query{
//	    Location: photodex.String("Xiamen"),
//	    Tags:     []string{"beach"},
//	})
//
// All mutation is serialized through the cluster manager's task state
// machine; reads stay concurrent and may trail an in-flight update by one
// assignment.
package photodex
