package analytics

import (
	"github.com/sheryldeakin/mindstorm-sub000/internal/model"
)

func present(label, severity string) model.EvidenceUnit {
	return model.EvidenceUnit{
		Span:       "span for " + label,
		Label:      label,
		Attributes: model.EvidenceAttributes{Polarity: model.PolarityPresent, Severity: severity},
	}
}

func absent(label string) model.EvidenceUnit {
	return model.EvidenceUnit{Label: label, Attributes: model.EvidenceAttributes{Polarity: model.PolarityAbsent}}
}

func signal(entryID, date string, units ...model.EvidenceUnit) model.EntrySignal {
	return model.EntrySignal{UserID: "alice", EntryID: entryID, DateISO: date, EvidenceUnits: units}
}
