package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthev-stack/communitypledges/pkg/model"
)

func TestRedisLog_AppendTail(t *testing.T) {
	t.Skip("run redis tests manually")

	feed, err := NewRedisLog("redis://localhost:6379")
	require.NoError(t, err)
	defer feed.Close()

	feed.Append(context.Background(), model.Activity{
		Type:        model.ActivityPledged,
		PayerID:     "usr_test",
		ServerID:    "srv_test",
		AmountCents: 500,
		CreatedAt:   time.Now().UTC(),
	})

	records, err := feed.Tail("usr_test", 10)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	require.Equal(t, model.ActivityPledged, records[0].Type)
	require.Equal(t, "srv_test", records[0].ServerID)
}
