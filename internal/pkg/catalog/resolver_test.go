package catalog_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog"
	"github.com/ManuelReschke/PlanCatalog/internal/pkg/catalog/catalogtest"
)

func threeVersions() *catalog.VersionedCatalog {
	return catalog.NewVersionedCatalog("acme",
		catalogtest.Snapshot("acme", catalogtest.Date(2012, 6, 1), 3, catalogtest.ShotgunMonthly(0, 60)),
		catalogtest.Snapshot("acme", catalogtest.Date(2012, 1, 1), 1, catalogtest.ShotgunMonthly(0, 50)),
		catalogtest.Snapshot("acme", catalogtest.Date(2012, 3, 1), 2, catalogtest.ShotgunMonthly(0, 55)),
	)
}

func TestResolvePicksGreatestEffectiveDateNotAfterDate(t *testing.T) {
	vc := threeVersions()

	tests := []struct {
		date time.Time
		want time.Time
	}{
		{date: catalogtest.Date(2012, 1, 1), want: catalogtest.Date(2012, 1, 1)},
		{date: catalogtest.Date(2012, 2, 29), want: catalogtest.Date(2012, 1, 1)},
		{date: catalogtest.Date(2012, 3, 1), want: catalogtest.Date(2012, 3, 1)},
		{date: catalogtest.Date(2012, 5, 31).Add(23 * time.Hour), want: catalogtest.Date(2012, 3, 1)},
		{date: catalogtest.Date(2030, 1, 1), want: catalogtest.Date(2012, 6, 1)},
	}
	for _, tt := range tests {
		s, err := catalog.Resolve(vc, tt.date)
		require.NoError(t, err)
		assert.True(t, s.EffectiveDate.Equal(tt.want), "date %s resolved to %s, want %s", tt.date, s.EffectiveDate, tt.want)
	}
}

func TestResolveBeforeFirstSnapshotFails(t *testing.T) {
	_, err := catalog.Resolve(threeVersions(), catalogtest.Date(2011, 12, 31))
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrNoApplicableCatalogVersion))

	var cerr *catalog.Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "acme", cerr.Tenant)
	assert.Contains(t, err.Error(), "tenant=acme")
}

func TestResolveEmptyCatalogFails(t *testing.T) {
	_, err := catalog.Resolve(catalog.NewVersionedCatalog("empty"), catalogtest.Date(2012, 1, 1))
	assert.ErrorIs(t, err, catalog.ErrNoApplicableCatalogVersion)
}

func TestDuplicateEffectiveDateKeepsLatestLoaded(t *testing.T) {
	vc := catalog.NewVersionedCatalog("acme",
		catalogtest.Snapshot("acme", catalogtest.Date(2012, 1, 1), 7, catalogtest.ShotgunMonthly(0, 70)),
		catalogtest.Snapshot("acme", catalogtest.Date(2012, 1, 1), 2, catalogtest.ShotgunMonthly(0, 20)),
	)
	require.Equal(t, 1, vc.Len())

	s, err := catalog.Resolve(vc, catalogtest.Date(2012, 1, 15))
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.Version)
}

func TestResolveRangeSplitsAcrossUpgrade(t *testing.T) {
	vc := threeVersions()

	spans, err := catalog.ResolveRange(vc, catalogtest.Date(2012, 2, 15), catalogtest.Date(2012, 3, 15))
	require.NoError(t, err)
	require.Len(t, spans, 2)

	assert.True(t, spans[0].Snapshot.EffectiveDate.Equal(catalogtest.Date(2012, 1, 1)))
	assert.True(t, spans[0].ValidFrom.Equal(catalogtest.Date(2012, 2, 15)))
	assert.True(t, spans[0].ValidTo.Equal(catalogtest.Date(2012, 3, 1)))

	assert.True(t, spans[1].Snapshot.EffectiveDate.Equal(catalogtest.Date(2012, 3, 1)))
	assert.True(t, spans[1].ValidFrom.Equal(catalogtest.Date(2012, 3, 1)))
	assert.True(t, spans[1].ValidTo.Equal(catalogtest.Date(2012, 3, 15)))
}

func TestResolveRangeCoversEverySnapshot(t *testing.T) {
	spans, err := catalog.ResolveRange(threeVersions(), catalogtest.Date(2012, 1, 10), catalogtest.Date(2013, 1, 1))
	require.NoError(t, err)
	require.Len(t, spans, 3)
	for i := 1; i < len(spans); i++ {
		assert.True(t, spans[i-1].ValidTo.Equal(spans[i].ValidFrom), "spans must be contiguous")
	}
	assert.True(t, spans[2].ValidTo.Equal(catalogtest.Date(2013, 1, 1)))
}

func TestResolveRangeEndingOnBoundaryHasOneSpan(t *testing.T) {
	spans, err := catalog.ResolveRange(threeVersions(), catalogtest.Date(2012, 2, 1), catalogtest.Date(2012, 3, 1))
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.True(t, spans[0].ValidTo.Equal(catalogtest.Date(2012, 3, 1)))
}

func TestResolveRangeRejectsBadInput(t *testing.T) {
	vc := threeVersions()

	_, err := catalog.ResolveRange(vc, catalogtest.Date(2012, 3, 1), catalogtest.Date(2012, 3, 1))
	assert.ErrorIs(t, err, catalog.ErrInvalidRange)

	_, err = catalog.ResolveRange(vc, catalogtest.Date(2011, 1, 1), catalogtest.Date(2012, 3, 1))
	assert.ErrorIs(t, err, catalog.ErrNoApplicableCatalogVersion)
}
