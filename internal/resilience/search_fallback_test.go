package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/search"
	searchmock "github.com/MrWong99/parley/pkg/provider/search/mock"
)

func TestSearchFallback_Failover(t *testing.T) {
	primary := &searchmock.Provider{Err: errors.New("quota exceeded")}
	secondary := &searchmock.Provider{Result: &search.Result{
		Text:    "It is 21°C.",
		Sources: []search.Source{{Title: "Weather", URI: "https://weather.example"}},
	}}

	fb := NewSearchFallback(primary, "gemini-flash", FallbackConfig{})
	fb.AddFallback("gemini-pro", secondary)

	res, err := fb.Search(context.Background(), search.Request{Query: "weather?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "It is 21°C." || len(res.Sources) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(primary.Calls()) != 1 || secondary.Calls()[0].Query != "weather?" {
		t.Errorf("primary=%v secondary=%v", primary.Calls(), secondary.Calls())
	}
}

func TestSearchFallback_AllFail(t *testing.T) {
	fb := NewSearchFallback(&searchmock.Provider{Err: errors.New("down")}, "gemini", FallbackConfig{})
	if _, err := fb.Search(context.Background(), search.Request{Query: "q"}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if s := fb.Status(); len(s) != 1 || s[0].Name != "gemini" {
		t.Errorf("Status() = %+v", s)
	}
}
