package servicectl

import (
	"context"
	"testing"

	"github.com/piwardrive/piwardrive/internal/domain"
)

func TestDo_RejectsUnknownUnit(t *testing.T) {
	c := New([]string{"kismet"})
	_, err := c.Do(context.Background(), "evil", Start)
	de, ok := err.(*domain.Error)
	if !ok || de.Kind != domain.KindValidation {
		t.Fatalf("err = %#v, want ValidationError", err)
	}
}

func TestDo_RejectsUnknownAction(t *testing.T) {
	c := New([]string{"kismet"})
	_, err := c.Do(context.Background(), "kismet", Action("nuke"))
	de, ok := err.(*domain.Error)
	if !ok || de.Kind != domain.KindValidation {
		t.Fatalf("err = %#v, want ValidationError", err)
	}
}
