package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/internal/repository"
	"notifyhub/internal/service/dispatch"
)

const testSecret = "whsec_test"

type memLogStore struct {
	logs     []*model.WebhookLog
	seen     map[string]bool // provider:webhookID
	fails    int
	failNext error
}

func (s *memLogStore) Insert(_ context.Context, log *model.WebhookLog) (bool, error) {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return false, err
	}
	if log.WebhookID != nil {
		key := log.Provider + ":" + *log.WebhookID
		if s.seen == nil {
			s.seen = map[string]bool{}
		}
		if s.seen[key] {
			return false, nil
		}
		s.seen[key] = true
	}
	log.CreatedAt = time.Now()
	s.logs = append(s.logs, log)
	if log.Status == model.WebhookFailed {
		s.fails++
	}
	return true, nil
}

type memDeliveryStore struct {
	byExternal map[string]*model.NotificationDelivery // provider:externalID
}

func key(provider, externalID string) string { return provider + ":" + externalID }

func (s *memDeliveryStore) GetByExternalID(_ context.Context, provider, externalID string) (*model.NotificationDelivery, error) {
	d, ok := s.byExternal[key(provider, externalID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d, nil
}

func (s *memDeliveryStore) TransitionByExternalID(_ context.Context, provider, externalID string, up repository.TransitionUpdate) (*model.NotificationDelivery, bool, error) {
	d, ok := s.byExternal[key(provider, externalID)]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	// Same monotonic guard the SQL layer enforces.
	from, to := model.DeliveryStatusRank(d.Status), model.DeliveryStatusRank(up.Status)
	if to < from || (to == from && d.Status != up.Status) {
		return d, false, nil
	}
	if d.Status == up.Status {
		return d, false, nil
	}
	d.Status = up.Status
	d.DeliveredAt = up.DeliveredAt
	d.FailedAt = up.FailedAt
	d.ErrorCode = up.ErrorCode
	d.BounceType = up.BounceType
	d.BounceSubtype = up.BounceSubtype
	return d, true, nil
}

type memSubStore struct {
	subs []*model.NotificationSubscription
}

func (s *memSubStore) ListByUserID(_ context.Context, _ string) ([]*model.NotificationSubscription, error) {
	return s.subs, nil
}

type memDeduper struct {
	seen map[string]bool
}

func (d *memDeduper) AcquireOnce(_ context.Context, provider, webhookID string) bool {
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	k := provider + ":" + webhookID
	if d.seen[k] {
		return false
	}
	d.seen[k] = true
	return true
}

func (d *memDeduper) Release(_ context.Context, provider, webhookID string) {
	delete(d.seen, provider+":"+webhookID)
}

type memFollowUp struct {
	reqs []dispatch.SendRequest
}

func (f *memFollowUp) Send(_ context.Context, req dispatch.SendRequest) (*model.Notification, error) {
	f.reqs = append(f.reqs, req)
	return &model.Notification{ID: "follow-up-1", Status: model.NotificationSent}, nil
}

type memStream struct {
	deliveries []*model.NotificationDelivery
}

func (s *memStream) PublishDelivery(d *model.NotificationDelivery) {
	s.deliveries = append(s.deliveries, d)
}

type memEvents struct {
	keys []string
}

func (e *memEvents) Publish(routingKey string, _ any) error {
	e.keys = append(e.keys, routingKey)
	return nil
}

type webhookFixture struct {
	ingestor   *Ingestor
	logs       *memLogStore
	deliveries *memDeliveryStore
	subs       *memSubStore
	followUp   *memFollowUp
	stream     *memStream
	events     *memEvents
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		logs: &memLogStore{},
		deliveries: &memDeliveryStore{byExternal: map[string]*model.NotificationDelivery{
			key(ProviderResend, "re-123"): {
				ID: "d-1", NotificationID: "n-1", UserID: "u1",
				Channel: model.ChannelEmail, Status: model.DeliverySent,
				Priority: model.PriorityMedium,
			},
			key(ProviderTwilio, "SM123"): {
				ID: "d-2", NotificationID: "n-1", UserID: "u1",
				Channel: model.ChannelSMS, Status: model.DeliverySent,
				Priority: model.PriorityMedium,
			},
		}},
		subs:     &memSubStore{},
		followUp: &memFollowUp{},
		stream:   &memStream{},
		events:   &memEvents{},
	}
	secrets := map[string]string{
		ProviderResend: testSecret,
		ProviderTwilio: testSecret,
	}
	f.ingestor = NewIngestor(
		secrets, f.logs, f.deliveries, f.subs, &memDeduper{},
		f.followUp, f.stream, f.events, zap.NewNop(),
	)
	return f
}

func resendBody(event, emailID string) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"data":{"email_id":%q,"to":"user@example.com"}}`, event, emailID))
}

func TestIngestRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)
	body := resendBody("email.delivered", "re-123")

	_, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, "sha256=deadbeef", "wh-1")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Empty(t, f.logs.logs, "nothing persisted on signature failure")
	assert.Equal(t, model.DeliverySent, f.deliveries.byExternal[key(ProviderResend, "re-123")].Status)
}

func TestIngestRejectsMissingSignature(t *testing.T) {
	f := newWebhookFixture(t)
	body := resendBody("email.delivered", "re-123")

	_, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, "", "wh-1")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestIngestUnknownProvider(t *testing.T) {
	f := newWebhookFixture(t)

	_, err := f.ingestor.Ingest(context.Background(), "sendgrid", []byte(`{}`), "sha256=00", "")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestIngestAppliesDeliveredTransition(t *testing.T) {
	f := newWebhookFixture(t)
	body := resendBody("email.delivered", "re-123")

	res, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, Sign(testSecret, body), "wh-1")
	require.NoError(t, err)

	assert.Equal(t, "processed", res.Status)
	assert.True(t, res.Applied)
	require.NotNil(t, res.Delivery)
	assert.Equal(t, model.DeliveryDelivered, res.Delivery.Status)
	assert.NotNil(t, res.Delivery.DeliveredAt)
	assert.Len(t, f.stream.deliveries, 1)
	assert.Contains(t, f.events.keys, "delivery.updated")
	require.Len(t, f.logs.logs, 1)
	assert.Equal(t, model.WebhookProcessed, f.logs.logs[0].Status)
}

func TestIngestDuplicateWebhookIDShortCircuits(t *testing.T) {
	f := newWebhookFixture(t)
	body := resendBody("email.delivered", "re-123")
	sig := Sign(testSecret, body)

	first, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, sig, "wh-1")
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, sig, "wh-1")
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, "duplicate", second.Status)
	assert.Len(t, f.logs.logs, 1, "replay writes no second log")
	assert.Len(t, f.stream.deliveries, 1, "replay publishes nothing")
}

func TestIngestLogInsertFailureReleasesDedupClaim(t *testing.T) {
	f := newWebhookFixture(t)
	f.logs.failNext = errors.New("connection reset by peer")
	body := resendBody("email.delivered", "re-123")
	sig := Sign(testSecret, body)

	_, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, sig, "wh-5")
	require.Error(t, err)
	assert.Equal(t, model.DeliverySent, f.deliveries.byExternal[key(ProviderResend, "re-123")].Status)

	// The provider retries. Nothing durable recorded the first attempt, so
	// this must be processed, not answered as a duplicate.
	res, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, sig, "wh-5")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.Applied)
	assert.Equal(t, model.DeliveryDelivered, f.deliveries.byExternal[key(ProviderResend, "re-123")].Status)
	require.Len(t, f.logs.logs, 1)
	assert.Equal(t, model.WebhookProcessed, f.logs.logs[0].Status)
}

func TestIngestDatabaseGuardCatchesRedisMiss(t *testing.T) {
	f := newWebhookFixture(t)
	body := resendBody("email.delivered", "re-123")
	sig := Sign(testSecret, body)

	_, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, sig, "wh-1")
	require.NoError(t, err)

	// Fresh deduper simulates Redis losing the key; the unique log index
	// still wins.
	f.ingestor.deduper = &memDeduper{}
	second, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, sig, "wh-1")
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Len(t, f.logs.logs, 1)
}

func TestIngestRefusesBackwardTransition(t *testing.T) {
	f := newWebhookFixture(t)
	f.deliveries.byExternal[key(ProviderResend, "re-123")].Status = model.DeliveryDelivered

	body := resendBody("email.sent", "re-123")
	res, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, Sign(testSecret, body), "")
	require.NoError(t, err)

	assert.False(t, res.Applied, "late sent event after delivered is ignored")
	assert.Equal(t, model.DeliveryDelivered, res.Delivery.Status)
	assert.Empty(t, f.stream.deliveries)
}

func TestIngestFirstTerminalStatusWins(t *testing.T) {
	f := newWebhookFixture(t)

	bounce := []byte(`{"event":"email.bounced","data":{"email_id":"re-123","to":"user@example.com","bounce_type":"Permanent","bounce_subtype":"General"}}`)
	res, err := f.ingestor.Ingest(context.Background(), ProviderResend, bounce, Sign(testSecret, bounce), "")
	require.NoError(t, err)
	require.True(t, res.Applied)
	assert.Equal(t, model.DeliveryBounced, res.Delivery.Status)

	delivered := resendBody("email.delivered", "re-123")
	res, err = f.ingestor.Ingest(context.Background(), ProviderResend, delivered, Sign(testSecret, delivered), "")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, model.DeliveryBounced, res.Delivery.Status)
}

func TestIngestUnknownExternalIDStillProcessed(t *testing.T) {
	f := newWebhookFixture(t)
	body := resendBody("email.delivered", "re-never-issued")

	res, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, Sign(testSecret, body), "wh-9")
	require.NoError(t, err)

	assert.Equal(t, "processed", res.Status)
	assert.Nil(t, res.Delivery)
	assert.Len(t, f.logs.logs, 1)
}

func TestIngestMalformedPayloadLogsFailure(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte(`{"event":"email.delivered","data":{}}`)

	_, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, Sign(testSecret, body), "wh-2")
	assert.ErrorIs(t, err, ErrMalformedPayload)

	require.Equal(t, 1, f.logs.fails)
	failed := f.logs.logs[0]
	assert.Equal(t, model.WebhookFailed, failed.Status)
	assert.NotNil(t, failed.ErrorMessage)
	assert.Zero(t, failed.RetryCount)
	assert.Nil(t, failed.WebhookID, "a failed log must not claim the webhook id")
}

func TestIngestMalformedThenCorrectedRetrySucceeds(t *testing.T) {
	f := newWebhookFixture(t)
	bad := []byte(`{"event":"email.delivered","data":{}}`)

	_, err := f.ingestor.Ingest(context.Background(), ProviderResend, bad, Sign(testSecret, bad), "wh-9")
	require.ErrorIs(t, err, ErrMalformedPayload)

	good := resendBody("email.delivered", "re-123")
	res, err := f.ingestor.Ingest(context.Background(), ProviderResend, good, Sign(testSecret, good), "wh-9")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, res.Applied)
}

func TestIngestTwilioFailureRecordsErrorCode(t *testing.T) {
	f := newWebhookFixture(t)
	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("MessageStatus", "undelivered")
	form.Set("ErrorCode", "30003")
	form.Set("ErrorMessage", "Unreachable destination handset")
	body := []byte(form.Encode())

	res, err := f.ingestor.Ingest(context.Background(), ProviderTwilio, body, Sign(testSecret, body), "")
	require.NoError(t, err)

	require.True(t, res.Applied)
	assert.Equal(t, model.DeliveryFailed, res.Delivery.Status)
	require.NotNil(t, res.Delivery.ErrorCode)
	assert.Equal(t, "30003", *res.Delivery.ErrorCode)
}

func TestIngestComplaintFiresFollowUp(t *testing.T) {
	f := newWebhookFixture(t)
	f.subs.subs = []*model.NotificationSubscription{{
		ID: "sub-1", UserID: "u1", NotificationType: "EMAIL_COMPLAINT",
		Channels: []string{model.ChannelInApp, model.ChannelEmail},
		IsActive: true,
		Filters: model.SubscriptionFilters{
			EventTypes: []string{"email.complained"},
		},
	}}
	body := []byte(`{"event":"email.complained","data":{"email_id":"re-123","to":"user@example.com","complaint_type":"abuse"}}`)

	res, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, Sign(testSecret, body), "wh-3")
	require.NoError(t, err)

	assert.Equal(t, "processed", res.Status)
	assert.Equal(t, model.DeliverySent, f.deliveries.byExternal[key(ProviderResend, "re-123")].Status,
		"complaint never changes the delivery status")

	require.Len(t, f.followUp.reqs, 1)
	req := f.followUp.reqs[0]
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, model.PriorityHigh, req.Priority)
	assert.Contains(t, req.Title, "Email Complaint")
	assert.Contains(t, req.Title, "user@example.com")
	assert.Equal(t, []string{model.ChannelInApp, model.ChannelEmail}, req.Channels)
}

func TestIngestComplaintWithoutMatchingSubscription(t *testing.T) {
	f := newWebhookFixture(t)
	f.subs.subs = []*model.NotificationSubscription{{
		ID: "sub-1", UserID: "u1", NotificationType: "EMAIL_COMPLAINT",
		Channels: []string{model.ChannelInApp},
		IsActive: true,
		Filters:  model.SubscriptionFilters{EventTypes: []string{"email.bounced"}},
	}}
	body := []byte(`{"event":"email.complained","data":{"email_id":"re-123","to":"user@example.com"}}`)

	_, err := f.ingestor.Ingest(context.Background(), ProviderResend, body, Sign(testSecret, body), "")
	require.NoError(t, err)
	assert.Empty(t, f.followUp.reqs)
}
