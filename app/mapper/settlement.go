package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-settlement/app/entity"
	"github.com/vibast-solutions/ms-go-settlement/app/types"
)

func JobToResponse(item *entity.Job) *types.JobResponse {
	if item == nil {
		return nil
	}

	return &types.JobResponse{
		ID:                item.ID,
		RequestID:         item.RequestID,
		CallerService:     item.CallerService,
		ProviderJobID:     derefString(item.ProviderJobID),
		Status:            item.Status,
		SourceAssetRef:    item.SourceAssetRef,
		ResultAssetURL:    derefString(item.ResultAssetURL),
		PersistedAssetRef: derefString(item.PersistedAssetRef),
		ResultDigest:      derefString(item.ResultDigest),
		ProviderError:     derefString(item.ProviderError),
		Attempts:          item.Attempts,
		CreatedAt:         item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func JobsToResponse(items []*entity.Job) []*types.JobResponse {
	result := make([]*types.JobResponse, 0, len(items))
	for _, item := range items {
		result = append(result, JobToResponse(item))
	}
	return result
}

func PaymentToResponse(item *entity.Payment) *types.PaymentResponse {
	if item == nil {
		return nil
	}

	return &types.PaymentResponse{
		ID:                item.ID,
		OrderID:           item.OrderID,
		CallerService:     item.CallerService,
		ProviderPaymentID: derefString(item.ProviderPaymentID),
		AmountCents:       item.AmountCents,
		Currency:          item.Currency,
		RefundedCents:     item.RefundedCents,
		Status:            item.Status,
		LastEventID:       derefString(item.LastEventID),
		CreatedAt:         item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func PaymentsToResponse(items []*entity.Payment) []*types.PaymentResponse {
	result := make([]*types.PaymentResponse, 0, len(items))
	for _, item := range items {
		result = append(result, PaymentToResponse(item))
	}
	return result
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
