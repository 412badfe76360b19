package engine

import (
	"context"
	"fmt"

	"github.com/vizor/vizor/pkg/telemetry"
)

// MapRegistrar registers named map definitions with the rendering engine.
// Maps are global: they are never owned by a chart and outlive every chart.
type MapRegistrar struct {
	renderer Renderer
	parser   OptionsParser
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
}

// NewMapRegistrar creates a registrar from the controller dependencies.
func NewMapRegistrar(deps Dependencies) *MapRegistrar {
	tel := deps.telemetry()
	return &MapRegistrar{
		renderer: deps.Renderer,
		parser:   deps.Parser,
		tel:      tel,
		logger:   tel.Logger.NewComponentLogger("maps"),
	}
}

// RegisterPayload decodes a map payload (strict JSON or expression) and
// registers each entry. Entries fail independently: a broken entry is logged
// and skipped. It returns the names that were registered.
func (m *MapRegistrar) RegisterPayload(ctx context.Context, payload string) []string {
	if isAbsent(payload) {
		return nil
	}

	decoded, err := m.parser.Parse(ctx, payload)
	if err != nil {
		reportRecoverable(m.tel, m.logger, NewMapDecodeError("failed to decode map options", err))
		return nil
	}

	entries, ok := decoded.([]interface{})
	if !ok {
		reportRecoverable(m.tel, m.logger, NewMapDecodeError(
			fmt.Sprintf("map options must be a list, got %T", decoded), nil))
		return nil
	}

	var registered []string
	for i, entry := range entries {
		m.logger.Dump("registering map", entry)

		name, err := m.register(entry)
		if err != nil {
			reportRecoverable(m.tel, m.logger, NewMapDecodeError(
				fmt.Sprintf("skipping map entry %d", i), err))
			continue
		}
		registered = append(registered, name)
	}
	return registered
}

// register validates one map entry and hands it to the renderer.
func (m *MapRegistrar) register(entry interface{}) (string, error) {
	fields, ok := entry.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("map entry must be an object, got %T", entry)
	}

	desc := mapDescriptorFrom(fields)
	name := desc.DisplayName()
	if name == "" {
		return "", fmt.Errorf("map entry has neither mapName nor name")
	}

	var def MapDefinition
	switch desc.Type {
	case MapTypeGeoJSON:
		def = MapDefinition{GeoJSON: desc.GeoJSON, SpecialAreas: desc.SpecialAreas}
	case MapTypeSVG:
		if desc.SVG == "" {
			m.tel.Metrics.RecordMapRegistration(desc.Type, "skipped")
			return "", fmt.Errorf("SVG content is missing for map %s", name)
		}
		def = MapDefinition{SVG: desc.SVG}
	default:
		m.tel.Metrics.RecordMapRegistration("unknown", "skipped")
		return "", fmt.Errorf("unsupported type %q for map %s", desc.Type, name)
	}

	if err := m.renderer.RegisterMap(name, def); err != nil {
		m.tel.Metrics.RecordMapRegistration(desc.Type, "error")
		return "", fmt.Errorf("failed to register map %s: %w", name, err)
	}

	m.tel.Metrics.RecordMapRegistration(desc.Type, "registered")
	_ = m.tel.Events.PublishMapRegistered(name, desc.Type)
	m.logger.WithField("map", name).Debug("map registered")
	return name, nil
}

// mapDescriptorFrom reads the known fields of a decoded map entry. Values of
// the wrong type are treated as missing.
func mapDescriptorFrom(fields map[string]interface{}) MapDescriptor {
	str := func(key string) string {
		s, _ := fields[key].(string)
		return s
	}
	return MapDescriptor{
		MapName:      str("mapName"),
		Name:         str("name"),
		Type:         str("type"),
		GeoJSON:      fields["geoJSON"],
		SpecialAreas: fields["specialAreas"],
		SVG:          str("svg"),
	}
}
