package service

import "github.com/unclebandit/campaign-consent/internal/model"

// DefaultDescriptiveAttribute decides whether a contact gets personalized
// content.
const DefaultDescriptiveAttribute = "description"

// Classification splits a cohort into contacts that carry the descriptive
// attribute and those that do not. It is reported, never used to change
// rendering.
type Classification struct {
	Personalized []model.Contact
	Standard     []model.Contact
}

func (c Classification) Counts() (personalized, standard int) {
	return len(c.Personalized), len(c.Standard)
}

func Classify(cohort []model.Contact, descriptiveKey string) Classification {
	if descriptiveKey == "" {
		descriptiveKey = DefaultDescriptiveAttribute
	}
	var out Classification
	for _, ct := range cohort {
		if _, ok := ct.Lookup(descriptiveKey); ok {
			out.Personalized = append(out.Personalized, ct)
		} else {
			out.Standard = append(out.Standard, ct)
		}
	}
	return out
}
