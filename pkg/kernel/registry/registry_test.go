package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelflow/kerneld/pkg/kernel/task"
)

func TestRegisterOverwritesAndResetsTimestamp(t *testing.T) {
	r := New()
	r.Register("billing", []task.ResourceMetadata{{Name: "charge", Type: task.ResourceTypeActivity}})
	first := r.Get("billing")
	require.NotNil(t, first)

	r.Register("billing", []task.ResourceMetadata{{Name: "refund", Type: task.ResourceTypeActivity}})
	second := r.Get("billing")
	require.NotNil(t, second)
	assert.Len(t, second.Resources, 1)
	assert.Equal(t, "refund", second.Resources[0].Name)
	assert.True(t, !second.RegisteredAt.Before(first.RegisteredAt))
}

func TestUnregisterReportsPriorPresence(t *testing.T) {
	r := New()
	assert.False(t, r.Unregister("ghost"))

	r.Register("billing", nil)
	assert.True(t, r.Unregister("billing"))
	assert.False(t, r.Exists("billing"))
}

func TestFindResourceMatchesByTypeAndOptionalName(t *testing.T) {
	r := New()
	r.Register("billing", []task.ResourceMetadata{
		{Name: "charge", Type: task.ResourceTypeActivity},
		{Name: "refund", Type: task.ResourceTypeActivity},
	})

	svc, res, found := r.FindResource(task.ResourceTypeActivity, "refund")
	require.True(t, found)
	assert.Equal(t, "billing", svc)
	assert.Equal(t, "refund", res.Name)

	_, _, found = r.FindResource(task.ResourceTypeWorkflow, "")
	assert.False(t, found)
}

func TestServicesByResourceType(t *testing.T) {
	r := New()
	r.Register("billing", []task.ResourceMetadata{{Name: "charge", Type: task.ResourceTypeActivity}})
	r.Register("reporting", []task.ResourceMetadata{{Name: "export", Type: task.ResourceTypeStep}})

	names := r.ServicesByResourceType(task.ResourceTypeActivity)
	assert.Equal(t, []string{"billing"}, names)
}

func TestLenAndIsEmpty(t *testing.T) {
	r := New()
	assert.True(t, r.IsEmpty())
	r.Register("billing", nil)
	assert.Equal(t, 1, r.Len())
	assert.False(t, r.IsEmpty())
}
