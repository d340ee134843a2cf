package catalog_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/internal/catalog"
	"caseflow/internal/domain"
)

func hours(n int) *int { return &n }

func TestIsAllowedUnrestrictedTopic(t *testing.T) {
	c := catalog.New("family", nil)
	assert.False(t, c.Restricted())
	for _, pair := range [][2]string{{"NEW", "IN_PROGRESS"}, {"NEW", "CLOSED"}, {"CLOSED", "NEW"}} {
		assert.True(t, c.IsAllowed(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
	assert.False(t, c.IsAllowed("", "NEW"))
	assert.False(t, c.IsAllowed("NEW", ""))
}

func TestIsAllowedRestrictedTopic(t *testing.T) {
	rules := []domain.TransitionRule{
		{ID: 1, TopicCode: "civil", FromStatus: "NEW", ToStatus: "IN_PROGRESS", Enabled: true},
		{ID: 2, TopicCode: "civil", FromStatus: "IN_PROGRESS", ToStatus: "CLOSED", Enabled: false},
		{ID: 3, TopicCode: "tax", FromStatus: "NEW", ToStatus: "CLOSED", Enabled: true},
	}
	c := catalog.New("civil", rules)
	assert.True(t, c.Restricted())
	assert.True(t, c.IsAllowed("NEW", "IN_PROGRESS"))
	assert.False(t, c.IsAllowed("NEW", "CLOSED"), "rule of another topic must not leak")
	assert.False(t, c.IsAllowed("IN_PROGRESS", "CLOSED"), "disabled rule")
	assert.True(t, c.IsAllowed("CLOSED", "CLOSED"), "no-op is always allowed")
}

func TestOnlyDisabledRulesLeaveTopicUnrestricted(t *testing.T) {
	c := catalog.New("civil", []domain.TransitionRule{
		{TopicCode: "civil", FromStatus: "NEW", ToStatus: "IN_PROGRESS", Enabled: false},
	})
	assert.True(t, c.IsAllowed("NEW", "CLOSED"))
}

func TestCheckPrerequisites(t *testing.T) {
	c := catalog.New("civil", []domain.TransitionRule{{
		TopicCode: "civil", FromStatus: "NEW", ToStatus: "IN_PROGRESS", Enabled: true,
		RequiredDataKeys:  domain.StringList{"passport_scan", "address", "children"},
		RequiredMimeTypes: domain.StringList{"application/pdf", "image/*"},
	}})

	m := c.CheckPrerequisites("NEW", "IN_PROGRESS", domain.JSONMap{"address": "", "children": []any{}}, nil)
	assert.Equal(t, []string{"passport_scan", "address", "children"}, m.Data)
	assert.Equal(t, []string{"application/pdf", "image/*"}, m.Files)

	err := m.Err()
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, catalog.CodeMissingPrerequisites, verr.Code)
	assert.Contains(t, err.Error(), "missing data: passport_scan, address, children")
	assert.Contains(t, err.Error(), "missing files: application/pdf, image/*")

	data := domain.JSONMap{"passport_scan": "p.pdf", "address": "Main st", "children": []any{"a"}}
	m = c.CheckPrerequisites("NEW", "IN_PROGRESS", data, []string{"APPLICATION/PDF", "image/png"})
	assert.True(t, m.Empty())
	assert.NoError(t, m.Err())

	// Only the empty string counts as missing; whitespace is a value.
	m = c.CheckPrerequisites("NEW", "IN_PROGRESS", domain.JSONMap{"passport_scan": " ", "address": "x", "children": []any{"a"}}, []string{"application/pdf", "image/png"})
	assert.True(t, m.Empty())

	m = c.CheckPrerequisites("NEW", "IN_PROGRESS", data, []string{"application/pdf"})
	assert.Empty(t, m.Data)
	assert.Equal(t, []string{"image/*"}, m.Files)
}

func TestCheckPrerequisitesWithoutRule(t *testing.T) {
	c := catalog.New("civil", []domain.TransitionRule{
		{TopicCode: "civil", FromStatus: "NEW", ToStatus: "IN_PROGRESS", Enabled: true},
	})
	assert.True(t, c.CheckPrerequisites("NEW", "IN_PROGRESS", nil, nil).Empty())
	assert.True(t, c.CheckPrerequisites("NEW", "CLOSED", nil, nil).Empty())
}

func TestMimeMatches(t *testing.T) {
	cases := []struct {
		category, mime string
		want           bool
	}{
		{"application/pdf", "application/pdf", true},
		{"application/pdf", "Application/PDF", true},
		{"application/pdf", "application/pdf; charset=binary", true},
		{"application/pdf", "application/x-pdf", false},
		{"image/*", "image/jpeg", true},
		{"IMAGE/*", "image/png", true},
		{"image/*", "imagex/png", false},
		{"image/*", "application/image", false},
		{"image/*", "", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, catalog.MimeMatches(tc.category, tc.mime), "%s vs %s", tc.category, tc.mime)
	}
}

func TestValidate(t *testing.T) {
	c := catalog.New("civil", []domain.TransitionRule{
		{TopicCode: "civil", FromStatus: "NEW", ToStatus: "IN_PROGRESS", Enabled: true},
	})
	require.NoError(t, c.Validate("NEW", "IN_PROGRESS", nil, nil))
	var verr domain.ValidationError
	require.ErrorAs(t, c.Validate("IN_PROGRESS", "CLOSED", nil, nil), &verr)
	assert.Equal(t, catalog.CodeNotAllowed, verr.Code)
}

func TestSLARulePrecedence(t *testing.T) {
	c := catalog.New("civil", []domain.TransitionRule{
		{ID: 1, TopicCode: "civil", FromStatus: "NEW", ToStatus: "REVIEW", Enabled: true, SLAHours: hours(48)},
		{ID: 2, TopicCode: "civil", FromStatus: "ON_HOLD", ToStatus: "REVIEW", Enabled: true, SLAHours: hours(8)},
		{ID: 3, TopicCode: "civil", FromStatus: "DRAFT", ToStatus: "REVIEW", Enabled: true},
	})
	r, ok := c.SLARule("ON_HOLD", "REVIEW")
	require.True(t, ok)
	assert.Equal(t, int64(2), r.ID)
	entered := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, entered.Add(8*time.Hour), catalog.Deadline(entered, r))

	r, ok = c.SLARule("DRAFT", "REVIEW")
	assert.False(t, ok, "the exact edge decides even without an SLA")
	assert.Equal(t, int64(3), r.ID)

	r, ok = c.SLARule("ARCHIVED", "REVIEW")
	require.True(t, ok)
	assert.Equal(t, int64(1), r.ID, "unlisted edge falls back to the first rule into the status")

	r, ok = c.SLARule("", "REVIEW")
	require.True(t, ok)
	assert.Equal(t, int64(1), r.ID)

	_, ok = c.SLARule("NEW", "CLOSED")
	assert.False(t, ok)
}
