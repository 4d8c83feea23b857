package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowengine/catalog"
	"github.com/R3E-Network/flowengine/pkg/engineerr"
)

func steps() []flow.StepDefinition {
	return []flow.StepDefinition{
		{Name: "A", MaxRetries: 1},
		{Name: "B", StepDependencies: []string{"A"}},
	}
}

func TestRegisterAndResolve(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register("KYC", steps()))

	defs, err := cat.Resolve("KYC")
	require.NoError(t, err)
	require.Len(t, defs, 2)
}

func TestResolveUnknownFlowType(t *testing.T) {
	cat := catalog.New()
	_, err := cat.Resolve("Nonexistent")
	require.Error(t, err)
	var ee *engineerr.Error
	require.ErrorAs(t, err, &ee)
	require.Equal(t, engineerr.CodeUnknownFlowType, ee.Code)
}

func TestReRegisteringIdenticalDefinitionsIsNoop(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register("KYC", steps()))
	require.NoError(t, cat.Register("KYC", steps()))
}

func TestReRegisteringDifferentDefinitionsFails(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register("KYC", steps()))

	changed := steps()
	changed[0].MaxRetries = 5
	err := cat.Register("KYC", changed)
	require.Error(t, err)
	var ee *engineerr.Error
	require.ErrorAs(t, err, &ee)
	require.Equal(t, engineerr.CodeDuplicateRegistration, ee.Code)
}

func TestRegisterRejectsEmptyFlowTypeOrSteps(t *testing.T) {
	cat := catalog.New()
	require.Error(t, cat.Register("", steps()))
	require.Error(t, cat.Register("KYC", nil))
}

func TestHasStep(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register("KYC", steps()))
	require.True(t, cat.HasStep("KYC", "A"))
	require.False(t, cat.HasStep("KYC", "Z"))
	require.False(t, cat.HasStep("Unknown", "A"))
}

func TestMarkStartedAllowsNewFlowTypesNotOldRedefinition(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register("KYC", steps()))
	cat.MarkStarted()

	require.NoError(t, cat.Register("Withdrawal", steps()))

	changed := steps()
	changed[0].MaxRetries = 9
	require.Error(t, cat.Register("KYC", changed))
}
