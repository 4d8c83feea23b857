package flowcatalogs

import (
	"time"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
)

// SubscriptionFlowType is the catalog key for the recurring-billing flow.
const SubscriptionFlowType = "Subscription"

// SubscriptionSteps returns the step catalog for the Subscription flow
// type: charge the recurring payment method, then branch on whether the
// charge succeeded; a failure triggers a PaymentRetry sub-flow and awaits
// its outcome before finalizing.
func SubscriptionSteps() []flow.StepDefinition {
	return []flow.StepDefinition{
		{
			Name:       "ChargePaymentMethod",
			IsCritical: false,
			MaxRetries: 1,
			RetryDelay: 2 * time.Second,
			Timeout:    15 * time.Second,
			Execute:    opaqueSuccess,
			Branches: []flow.Branch{
				{
					Name:          "chargeFailed",
					IsConditional: true,
					Condition:     "chargeSucceeded == false",
					Steps: []flow.StepDefinition{
						{
							Name:           "TriggerPaymentRetry",
							IsCritical:     true,
							AwaitTriggered: true,
							Execute: func(ctx flow.ExecContext) flow.StepResult {
								return flow.StepResult{
									IsSuccess:      true,
									TriggeredFlows: []flow.TriggerRequest{{FlowType: PaymentRetryFlowType}},
								}
							},
						},
					},
				},
				{
					Name:      "chargeSucceeded",
					IsDefault: true,
					Steps: []flow.StepDefinition{
						{Name: "RecordSuccessfulCharge", IsCritical: true, Execute: opaqueSuccess},
					},
				},
			},
		},
		{
			Name:             "RenewSubscriptionPeriod",
			IsCritical:       true,
			StepDependencies: []string{"TriggerPaymentRetry", "RecordSuccessfulCharge"},
			Execute:          opaqueSuccess,
		},
	}
}
