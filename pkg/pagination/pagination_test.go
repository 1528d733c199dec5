package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"limit=5", 5, 0},
		{"limit=500", MaxLimit, 0},
		{"limit=-3", DefaultLimit, 0},
		{"limit=10&offset=30", 10, 30},
		{"limit=10&page=3", 10, 20},
		{"limit=10&page=3&offset=5", 10, 5},
		{"offset=-1", DefaultLimit, 0},
		{"page=0", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := paramsFor(tt.query)
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("%q: got limit=%d offset=%d, want %d/%d", tt.query, p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestFromContext_KeywordAndSort(t *testing.T) {
	p := paramsFor("keyword=%20smith%20&sort=-createdAt")
	if p.Keyword != "smith" {
		t.Errorf("expected trimmed keyword, got %q", p.Keyword)
	}
	if p.Sort != "-createdAt" {
		t.Errorf("unexpected sort %q", p.Sort)
	}
}

func TestNewResponse(t *testing.T) {
	p := Params{Limit: 10, Offset: 20}
	r := NewResponse([]string{"a"}, 31, p)
	if !r.HasMore || r.Page != 3 {
		t.Errorf("unexpected response %+v", r)
	}
	r = NewResponse([]string{"a"}, 30, p)
	if r.HasMore {
		t.Error("expected no more results at the end")
	}
}
