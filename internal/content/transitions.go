package content

import (
	"time"
)

var keywordEdges = map[KeywordStatus]map[KeywordStatus]bool{
	KeywordUnplanned: {KeywordPlanned: true, KeywordUsed: true},
	KeywordPlanned:   {KeywordPlanned: true, KeywordUsed: true},
}

var articleEdges = map[ArticleStatus]map[ArticleStatus]bool{
	ArticleDraft:     {ArticleDraft: true, ArticleScheduled: true, ArticlePublished: true},
	ArticleScheduled: {ArticleScheduled: true, ArticlePublished: true},
	ArticlePublished: {ArticlePublished: true},
}

// TransitionKeyword moves kw to the target status in place.
// plannedDate is required when moving to planned and ignored otherwise.
// A used keyword never moves; ErrKeywordUsed is returned and kw is untouched.
func TransitionKeyword(kw *Keyword, to KeywordStatus, plannedDate *time.Time) error {
	const op = "keyword transition"
	if kw.Status == KeywordUsed {
		return ErrKeywordUsed
	}
	if !keywordEdges[kw.Status][to] {
		return Errorf(CodeInvalidTransition, op, "%s -> %s", kw.Status, to)
	}
	if to == KeywordPlanned {
		if plannedDate == nil || plannedDate.IsZero() {
			return Errorf(CodeValidationFailed, op, "plannedDate is required")
		}
		d := plannedDate.UTC()
		kw.PlannedDate = &d
	}
	kw.Status = to
	return nil
}

// ArticlePatch is a partial update. Nil fields are left unchanged.
type ArticlePatch struct {
	Title            *string        `json:"title,omitempty"`
	Body             *string        `json:"body,omitempty"`
	MetaTitle        *string        `json:"metaTitle,omitempty"`
	MetaDescription  *string        `json:"metaDescription,omitempty"`
	FeaturedImageURL *string        `json:"featuredImageUrl,omitempty"`
	Status           *ArticleStatus `json:"status,omitempty"`
	ScheduledFor     *time.Time     `json:"scheduledFor,omitempty"`
	PublishedAt      *time.Time     `json:"publishedAt,omitempty"`
}

// ArticleChange describes the status movement produced by a patch.
type ArticleChange struct {
	From                ArticleStatus `json:"from"`
	To                  ArticleStatus `json:"to"`
	TriggersAutoPublish bool          `json:"triggersAutoPublish"`
}

// Changed reports whether the status moved.
func (c ArticleChange) Changed() bool { return c.From != c.To }

// ApplyArticlePatch applies patch to a in place and enforces the article
// lifecycle. After a successful call PublishedAt is set iff Status is published.
func ApplyArticlePatch(a *Article, patch ArticlePatch, origin Origin, now time.Time) (ArticleChange, error) {
	const op = "article transition"
	from := a.Status
	to := from
	if patch.Status != nil {
		to = *patch.Status
	}
	change := ArticleChange{From: from, To: to}

	if !articleEdges[from][to] {
		return change, Errorf(CodeInvalidTransition, op, "%s -> %s", from, to)
	}

	scheduledFor := a.ScheduledFor
	if patch.ScheduledFor != nil {
		s := patch.ScheduledFor.UTC()
		scheduledFor = &s
	}
	if to == ArticleScheduled && scheduledFor == nil {
		return change, Errorf(CodeValidationFailed, op, "scheduledFor is required for scheduled articles")
	}
	if patch.PublishedAt != nil && to != ArticlePublished {
		return change, Errorf(CodeValidationFailed, op, "publishedAt is only valid for published articles")
	}

	if patch.Title != nil {
		a.Title = *patch.Title
	}
	if patch.Body != nil {
		a.Body = *patch.Body
	}
	if patch.MetaTitle != nil {
		a.MetaTitle = *patch.MetaTitle
	}
	if patch.MetaDescription != nil {
		a.MetaDescription = *patch.MetaDescription
	}
	if patch.FeaturedImageURL != nil {
		a.FeaturedImageURL = *patch.FeaturedImageURL
	}
	a.ScheduledFor = scheduledFor
	a.Status = to

	switch to {
	case ArticlePublished:
		switch {
		case patch.PublishedAt != nil:
			p := patch.PublishedAt.UTC()
			a.PublishedAt = &p
		case a.PublishedAt == nil:
			p := now.UTC()
			a.PublishedAt = &p
		}
	default:
		a.PublishedAt = nil
	}
	if to == ArticleDraft {
		a.ScheduledFor = nil
	}
	a.UpdatedAt = now.UTC()

	change.TriggersAutoPublish = from == ArticleDraft && to == ArticlePublished && origin == OriginUser
	return change, nil
}
