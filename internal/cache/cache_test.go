package cache

import (
	"time"

	"github.com/arkilian/versionstore/internal/replay"
	"github.com/arkilian/versionstore/pkg/types"
)

func testMaterialization(datasetID string, number types.VersionNumber, records ...types.Record) *replay.Materialization {
	if records == nil {
		records = []types.Record{}
	}
	return &replay.Materialization{
		Dataset: &types.Dataset{ID: datasetID, Name: "people", CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)},
		Version: &types.Version{ID: "v-" + string(number), DatasetID: datasetID, Number: number, ChangeType: types.ChangeInsert},
		Schema:  types.Schema{{Name: "id", DataType: "integer"}},
		Records: records,
	}
}
