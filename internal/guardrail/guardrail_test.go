package guardrail

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

func valid(url string) discovery.CandidateProfile {
	return discovery.CandidateProfile{
		Name:      "Ada Lovelace",
		Title:     "Engineer",
		Location:  "Toronto",
		SourceURL: url,
	}
}

func TestCheckRequiredFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*discovery.CandidateProfile)
		want   discovery.RejectReason
	}{
		{name: "complete", mutate: func(*discovery.CandidateProfile) {}, want: discovery.RejectNone},
		{name: "blank name", mutate: func(p *discovery.CandidateProfile) { p.Name = "  " }, want: discovery.RejectMissingName},
		{name: "no title", mutate: func(p *discovery.CandidateProfile) { p.Title = "" }, want: discovery.RejectMissingTitle},
		{name: "no location", mutate: func(p *discovery.CandidateProfile) { p.Location = "" }, want: discovery.RejectMissingLocation},
		{name: "no url", mutate: func(p *discovery.CandidateProfile) { p.SourceURL = "" }, want: discovery.RejectMissingSourceURL},
		{
			name:   "name checked first",
			mutate: func(p *discovery.CandidateProfile) { p.Name, p.Title, p.Location = "", "", "" },
			want:   discovery.RejectMissingName,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := valid("https://example.com/in/a")
			tc.mutate(&p)
			require.Equal(t, tc.want, Check(p))
		})
	}
}

func TestValidatorDeduplicatesWithinTask(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	require.Equal(t, discovery.RejectNone, v.Validate(valid("https://example.com/in/a")))
	require.Equal(t, discovery.RejectDuplicateSourceURL, v.Validate(valid("https://EXAMPLE.com/in/a/")))
	require.Equal(t, discovery.RejectNone, v.Validate(valid("https://example.com/in/b")))
	require.Equal(t, 2, v.Accepted())
}

func TestRejectedRecordDoesNotPoisonDedup(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	bad := valid("https://example.com/in/a")
	bad.Title = ""
	require.Equal(t, discovery.RejectMissingTitle, v.Validate(bad))
	require.Equal(t, discovery.RejectNone, v.Validate(valid("https://example.com/in/a")))
}

func TestValidatorsAreTaskScoped(t *testing.T) {
	t.Parallel()

	a, b := NewValidator(), NewValidator()
	require.Equal(t, discovery.RejectNone, a.Validate(valid("https://example.com/in/a")))
	require.Equal(t, discovery.RejectNone, b.Validate(valid("https://example.com/in/a")))
}

func TestValidatorRequiresRequestedSkill(t *testing.T) {
	t.Parallel()

	v := NewValidator("Go", "Kafka")
	noSkills := valid("https://example.com/in/a")
	require.Equal(t, discovery.RejectNoMatchingSkills, v.Validate(noSkills))

	other := valid("https://example.com/in/a")
	other.Skills = []string{"Rust"}
	require.Equal(t, discovery.RejectNoMatchingSkills, v.Validate(other))

	match := valid("https://example.com/in/a")
	match.Skills = []string{"kafka"}
	require.Equal(t, discovery.RejectNone, v.Validate(match))
	require.Equal(t, 1, v.Accepted())
}

func TestMatchesSkillsWithoutRequest(t *testing.T) {
	t.Parallel()

	require.True(t, MatchesSkills(valid("https://example.com/in/a"), nil))
	require.False(t, MatchesSkills(valid("https://example.com/in/a"), []string{"Go"}))
}
