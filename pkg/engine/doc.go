// Package engine provides the chart lifecycle controller of Vizor and the
// external data subsystem that feeds it.
//
// # Overview
//
// Vizor manages live chart instances of an external rendering engine on behalf
// of a host application. A chart moves through four states:
//
//	Uninitialized -> Loading -> Ready -> Disposed
//
// Create instantiates the chart and shows a loading indicator. When chart
// options are supplied, the data path runs in a fixed order:
//
//  1. Fetch - retrieve external data sources one after another (Fetcher)
//  2. Maps - register named map definitions (MapRegistrar)
//  3. Parse - decode the chart options (OptionsParser)
//  4. Apply - hand the options to the rendering engine and hide the indicator
//
// Update runs the same data path on a live chart. Dispose evicts every data
// source the chart owns from the DataSourceCache before releasing the
// rendering engine instance. Disposed ids are never reused; creating the same
// id again starts from Uninitialized.
//
// # Collaborators
//
// The controller reaches everything through interfaces supplied in
// Dependencies:
//
//   - Renderer, Instance: the rendering engine (init, setOption, resize, ...)
//   - Viewport: host resize notifications
//   - Transport: network retrieval of fetch descriptors
//   - DataSourceCache: process-wide store of resolved data (see pkg/stores)
//   - OptionsParser, PathEvaluator: payload decoding (see pkg/config)
//   - FetchGuard: optional fetch admission (see pkg/policy)
//
// # Error Classification
//
// Errors are classified by whether they abort the current operation:
//
//   - Fatal: undecodable chart options (FATAL_DECODE), failed retrievals
//     (FETCH_FAILED, POLICY_DENIED). Returned to the caller; the chart stays
//     registered in Loading.
//   - Recoverable: broken path projections or afterLoad transforms, broken
//     map entries, undecodable fetch payloads and unknown chart ids. Logged
//     and counted, never returned.
//
// Nothing is retried. Data sources cached before a failed retrieval stay
// cached.
//
// # Example Usage
//
//	ctrl, err := engine.NewController(engine.Dependencies{
//	    Renderer:  renderer,
//	    Viewport:  renderer,
//	    Transport: fetch.NewClient(fetch.Options{}),
//	    Cache:     stores.NewMemoryStore(),
//	    Parser:    config.NewOptionsParser(nil),
//	    Path:      config.NewPathEvaluator(),
//	})
//	if err != nil {
//	    return err
//	}
//
//	err = ctrl.Create(ctx, engine.CreateRequest{
//	    ID:           "sales",
//	    ChartOptions: `{"series": [{"type": "bar"}]}`,
//	    FetchOptions: `[{"id": "regions", "url": "https://example.com/regions.json", "fetchAs": "json"}]`,
//	})
//	if engine.IsFetchFailure(err) {
//	    // The data source could not be retrieved
//	}
package engine
