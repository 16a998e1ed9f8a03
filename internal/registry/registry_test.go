package registry

import (
	"strings"
	"testing"
)

func TestEndpointUpsertIsLastWriteWins(t *testing.T) {
	if !strings.Contains(upsertEndpointQuery, "ON CONFLICT (name) DO UPDATE") {
		t.Fatalf("expected upsert-by-name conflict clause")
	}
	if !strings.Contains(upsertEndpointQuery, "hosting_config_id = EXCLUDED.hosting_config_id") {
		t.Fatalf("expected hosting config overwrite on conflict")
	}
	if strings.Contains(upsertEndpointQuery, "created_at = EXCLUDED") {
		t.Fatalf("created_at must be preserved on redeploy")
	}
}

func TestListModelsOrdered(t *testing.T) {
	if !strings.Contains(listModelsQuery, "ORDER BY created_at DESC") {
		t.Fatalf("expected newest-first model listing")
	}
}

func TestNullIfEmpty(t *testing.T) {
	if got := nullIfEmpty("  "); got.Valid {
		t.Fatalf("blank should be null")
	}
	got := nullIfEmpty(" x ")
	if !got.Valid || got.String != "x" {
		t.Fatalf("got %+v, want trimmed valid", got)
	}
}

func TestStoresRequireDB(t *testing.T) {
	if NewModelStore(nil) != nil {
		t.Fatalf("model store should be nil without db")
	}
	if NewHostingConfigStore(nil) != nil {
		t.Fatalf("hosting config store should be nil without db")
	}
	if NewEndpointStore(nil) != nil {
		t.Fatalf("endpoint store should be nil without db")
	}
}
