package redact

import (
	"context"
	"sort"
)

// Layer 2: named-entity redaction. PERSON/ORG stay themselves; the three
// geography-ish labels collapse into [LOCATION].
var nerTargets = map[string]string{
	"PERSON": "[PERSON]",
	"ORG":    "[ORG]",
	"GPE":    "[LOCATION]",
	"LOC":    "[LOCATION]",
	"FAC":    "[LOCATION]",
}

// redactEntities runs the recognizer over all subjects, then all bodies, and
// rewrites target spans in place. Spans whose text is already a Layer-1
// placeholder are skipped.
func (r *Redactor) redactEntities(ctx context.Context, docs []Document, counts Counts) error {
	subjects := make([]string, len(docs))
	bodies := make([]string, len(docs))
	for i, d := range docs {
		subjects[i] = d.Subject
		bodies[i] = d.Body
	}

	redactBatch := func(texts []string) ([]string, error) {
		ents, err := r.ner.Recognize(ctx, texts)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(texts))
		for i, text := range texts {
			spans := ents[i]
			// replace back-to-front so earlier offsets stay valid
			sort.Slice(spans, func(a, b int) bool { return spans[a].Start > spans[b].Start })
			for _, e := range spans {
				placeholder, ok := nerTargets[e.Label]
				if !ok {
					continue
				}
				if e.Start < 0 || e.End > len(text) || e.Start >= e.End {
					continue
				}
				if placeholderRe.MatchString(e.Text) {
					continue
				}
				name := placeholder[1 : len(placeholder)-1]
				text = text[:e.Start] + placeholder + text[e.End:]
				counts.add(name, 1)
			}
			out[i] = text
		}
		return out, nil
	}

	newSubjects, err := redactBatch(subjects)
	if err != nil {
		return err
	}
	newBodies, err := redactBatch(bodies)
	if err != nil {
		return err
	}
	for i := range docs {
		docs[i].Subject = newSubjects[i]
		docs[i].Body = newBodies[i]
	}
	return nil
}
