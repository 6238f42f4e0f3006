package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

func TestStatusHub_ScopesByBusiness(t *testing.T) {
	hub := NewStatusHub()
	mine, cancelMine := hub.Subscribe("biz-1", 4)
	defer cancelMine()
	theirs, cancelTheirs := hub.Subscribe("biz-2", 4)
	defer cancelTheirs()

	hub.Publish(domain.StatusEvent{BusinessID: "biz-1", DataSourceID: "ds-1", Status: domain.SourceProcessing})

	select {
	case e := <-mine:
		assert.Equal(t, "ds-1", e.DataSourceID)
	default:
		t.Fatal("expected an event")
	}
	assert.Empty(t, theirs)
}

func TestStatusHub_DropsWhenFull(t *testing.T) {
	hub := NewStatusHub()
	ch, cancel := hub.Subscribe("biz-1", 1)
	defer cancel()

	hub.Publish(domain.StatusEvent{BusinessID: "biz-1", Progress: 10})
	hub.Publish(domain.StatusEvent{BusinessID: "biz-1", Progress: 20})

	require.Len(t, ch, 1)
	assert.Equal(t, 10, (<-ch).Progress)
}

func TestStatusHub_Cancel(t *testing.T) {
	hub := NewStatusHub()
	ch, cancel := hub.Subscribe("biz-1", 0)
	assert.Equal(t, 1, hub.Subscribers("biz-1"))

	cancel()
	cancel()
	assert.Zero(t, hub.Subscribers("biz-1"))
	_, open := <-ch
	assert.False(t, open)

	hub.Publish(domain.StatusEvent{BusinessID: "biz-1"})
}
