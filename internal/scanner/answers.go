package scanner

// AttachAnswerKeys copies answer keys read from answer pages onto problems
// with the same question number that have no key of their own. The first
// answer seen for a question wins. It returns the number of problems filled.
func AttachAnswerKeys(pages []Page) int {
	answers := make(map[int]string)
	for _, page := range pages {
		for _, a := range page.Answers {
			if a.QuestionNo <= 0 || a.AnswerKey == "" {
				continue
			}
			if _, seen := answers[a.QuestionNo]; !seen {
				answers[a.QuestionNo] = a.AnswerKey
			}
		}
	}
	if len(answers) == 0 {
		return 0
	}

	matched := 0
	for i := range pages {
		for j := range pages[i].Problems {
			p := &pages[i].Problems[j]
			if p.QuestionNo <= 0 || p.AnswerKey != "" {
				continue
			}
			key, ok := answers[p.QuestionNo]
			if !ok {
				continue
			}
			p.AnswerKey = key
			p.AnswerSource = AnswerSourcePage
			matched++
		}
	}
	return matched
}
