// Package bridge is the host boundary of Vizor.
//
// A Bridge accepts the textual payloads a host application sends (init
// options, chart options, map and fetch descriptors) and drives the chart
// lifecycle controller. New composes a Bridge from config.Settings:
//
//	settings, err := config.LoadSettings("vizor.yaml")
//	if err != nil {
//		return err
//	}
//	b, err := bridge.New(ctx, settings)
//	if err != nil {
//		return err
//	}
//	defer b.Close(ctx)
//
//	err = b.CreateChart(ctx, "sales", "dark", `{"renderer": "svg"}`,
//		`{"series": [{"type": "bar"}]}`, "",
//		`[{"id": "rows", "url": "https://example.com/rows.json"}]`)
//
// Server exposes the same operations as a JSON API routed with chi, and
// WebhookCallback forwards chart clicks to an HTTP endpoint.
package bridge
