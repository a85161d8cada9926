package control

import (
	"encoding/json"
	"errors"
	"testing"

	"gopkg.in/yaml.v3"

	"gencam/internal/property"
)

func newTestCatalog() *Catalog {
	return NewCatalog().
		MustAdd(Gain, property.Must(property.NewInt(0, 100, 10, 0))).
		MustAdd(Gamma, property.Must(property.NewFloat(0.1, 4.0, 0.1, 1.0))).
		MustAdd(PixelFormat, property.Must(property.NewEnum([]string{"mono8", "mono16"}, 0))).
		MustAdd(WidthMax, property.Must(property.NewInt(1, 8192, 1, 1920, property.ReadOnly())))
}

func TestParseID(t *testing.T) {
	testCases := []struct {
		input   string
		want    ID
		wantErr bool
	}{
		{input: "analog/gain", want: Gain},
		{input: " exposure/exposure_time ", want: ExposureTime},
		{input: "digital_io/line_invert", want: LineInvert},
		{input: "analog", wantErr: true},
		{input: "lens/focus", wantErr: true},
		{input: "analog/Gain", wantErr: true},
		{input: "analog/", wantErr: true},
		{input: "analog/this_name_is_far_too_long_to_be_valid", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := Parse(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidID) {
					t.Errorf("Expected ErrInvalidID, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestCatalog_AddRejectsDuplicate(t *testing.T) {
	catalog := newTestCatalog()
	err := catalog.Add(Gain, property.Must(property.NewBool(false)))
	if !errors.Is(err, ErrDuplicateControl) {
		t.Fatalf("Expected ErrDuplicateControl, got %v", err)
	}
	// 既存のモデルは変わらない
	model, _ := catalog.Get(Gain)
	if model.Kind() != property.KindInt {
		t.Errorf("Expected original int model, got %s", model.Kind())
	}
}

func TestCatalog_SetAcceptsAndRejects(t *testing.T) {
	catalog := newTestCatalog()

	if err := catalog.Set(Gain, property.Int(40)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := catalog.Current(Gain); v != property.Int(40) {
		t.Errorf("Expected gain 40, got %v", v)
	}

	// 刻み外は拒否され、現在値は残る
	err := catalog.Set(Gain, property.Int(45))
	if !errors.Is(err, property.ErrInvalidValue) {
		t.Fatalf("Expected ErrInvalidValue, got %v", err)
	}
	if v, _ := catalog.Current(Gain); v != property.Int(40) {
		t.Errorf("Expected gain to stay 40, got %v", v)
	}

	if err := catalog.Set(WidthMax, property.Int(1920)); !errors.Is(err, property.ErrInvalidValue) {
		t.Errorf("Expected read-only rejection, got %v", err)
	}
	if err := catalog.Set(Temperature, property.Float(0)); !errors.Is(err, ErrUnknownControl) {
		t.Errorf("Expected ErrUnknownControl, got %v", err)
	}
}

func TestCatalog_ValidateDoesNotMutate(t *testing.T) {
	catalog := newTestCatalog()
	if err := catalog.Validate(Gamma, property.Float(2.3)); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if v, _ := catalog.Current(Gamma); v != property.Float(1.0) {
		t.Errorf("Expected gamma to stay 1.0, got %v", v)
	}
}

func TestCatalog_IDsOrderedByGroup(t *testing.T) {
	catalog := newTestCatalog()
	catalog.MustAdd(Temperature, property.Must(property.NewFloat(-40, 80, 0, 20, property.ReadOnly())))

	got := catalog.IDs()
	want := []ID{Temperature, PixelFormat, WidthMax, Gain, Gamma}
	if len(got) != len(want) {
		t.Fatalf("Expected %d ids, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if analog := catalog.Group(GroupAnalog); len(analog) != 2 {
		t.Errorf("Expected 2 analog controls, got %v", analog)
	}
}

func TestCatalog_CloneIsIndependent(t *testing.T) {
	catalog := newTestCatalog()
	clone := catalog.Clone()
	if err := clone.Set(Gain, property.Int(90)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := catalog.Current(Gain); v != property.Int(0) {
		t.Errorf("Expected original gain 0, got %v", v)
	}
}

func TestCatalog_NilIsEmpty(t *testing.T) {
	var catalog *Catalog
	if catalog.Len() != 0 || catalog.Has(Gain) || len(catalog.IDs()) != 0 {
		t.Error("Expected nil catalog to behave as empty")
	}
	if _, err := catalog.Get(Gain); !errors.Is(err, ErrUnknownControl) {
		t.Errorf("Expected ErrUnknownControl, got %v", err)
	}
}

func TestCatalog_Replace(t *testing.T) {
	catalog := newTestCatalog()
	if err := catalog.Replace(WidthMax, property.Must(property.NewInt(1, 8192, 1, 4096, property.ReadOnly()))); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if v, _ := catalog.Current(WidthMax); v != property.Int(4096) {
		t.Errorf("Expected 4096, got %v", v)
	}
	if err := catalog.Replace(WidthMax, property.Must(property.NewBool(true))); !errors.Is(err, property.ErrInvalidModel) {
		t.Errorf("Expected kind change to be rejected, got %v", err)
	}
}

func TestCatalog_JSONRoundTrip(t *testing.T) {
	catalog := newTestCatalog()
	if err := catalog.Set(Gain, property.Int(70)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	data, err := json.Marshal(catalog)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Expected JSON object: %v", err)
	}
	if _, ok := raw["analog/gain"]; !ok {
		t.Errorf("Expected key analog/gain in %s", data)
	}

	decoded := &Catalog{}
	if err := json.Unmarshal(data, decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Len() != catalog.Len() {
		t.Errorf("Expected %d controls, got %d", catalog.Len(), decoded.Len())
	}
	if v, _ := decoded.Current(Gain); v != property.Int(70) {
		t.Errorf("Expected gain 70, got %v", v)
	}
}

func TestCatalog_YAMLRoundTrip(t *testing.T) {
	catalog := newTestCatalog()
	data, err := yaml.Marshal(catalog)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded := &Catalog{}
	if err := yaml.Unmarshal(data, decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	model, err := decoded.Get(WidthMax)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !model.ReadOnly() {
		t.Error("Expected read-only flag to survive")
	}

	bad := []byte("lens/focus:\n  kind: bool\n  read_only: false\n  bool: {current: true, default: false}\n")
	if err := yaml.Unmarshal(bad, &Catalog{}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Expected ErrInvalidID, got %v", err)
	}
}
