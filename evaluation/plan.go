package evaluation

import (
	"fmt"

	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

// AnalysisPlan lists the hypotheses a run evaluates.
type AnalysisPlan struct {
	Intervals  []IntervalTarget  `json:"intervals" yaml:"intervals" mapstructure:"intervals"`
	OneSample  []OneSampleTarget `json:"oneSample" yaml:"one_sample" mapstructure:"one_sample"`
	TwoSample  []TwoSampleTarget `json:"twoSample" yaml:"two_sample" mapstructure:"two_sample"`
	ANOVA      []ANOVATarget     `json:"anova" yaml:"anova" mapstructure:"anova"`
	Regression RegressionTarget  `json:"regression" yaml:"regression" mapstructure:"regression"`
}

// IntervalTarget requests a confidence interval for the mean of Variable in Group.
type IntervalTarget struct {
	Group    string `json:"group" yaml:"group" mapstructure:"group"`
	Variable string `json:"variable" yaml:"variable" mapstructure:"variable"`
}

// OneSampleTarget tests H0: mean(Variable in Group) = NullMean.
type OneSampleTarget struct {
	Group    string  `json:"group" yaml:"group" mapstructure:"group"`
	Variable string  `json:"variable" yaml:"variable" mapstructure:"variable"`
	NullMean float64 `json:"nullMean" yaml:"null_mean" mapstructure:"null_mean"`
}

// TwoSampleTarget compares Variable between Group1 and Group2 with Welch's test.
type TwoSampleTarget struct {
	Group1   string `json:"group1" yaml:"group1" mapstructure:"group1"`
	Group2   string `json:"group2" yaml:"group2" mapstructure:"group2"`
	Variable string `json:"variable" yaml:"variable" mapstructure:"variable"`
}

// ANOVATarget compares Variable across the levels of Factor within the rows of Group.
type ANOVATarget struct {
	Group    string `json:"group" yaml:"group" mapstructure:"group"`
	Variable string `json:"variable" yaml:"variable" mapstructure:"variable"`
	Factor   string `json:"factor" yaml:"factor" mapstructure:"factor"`
}

// RegressionTarget describes the logistic model of P(DDoS).
type RegressionTarget struct {
	Continuous  []string     `json:"continuous" yaml:"continuous" mapstructure:"continuous"`
	Categorical string       `json:"categorical" yaml:"categorical" mapstructure:"categorical"`
	Effect      EffectTarget `json:"effect" yaml:"effect" mapstructure:"effect"`
	Ablation    bool         `json:"ablation" yaml:"ablation" mapstructure:"ablation"`
}

// EffectTarget asks for the odds ratio of a change of Increment in Variable.
type EffectTarget struct {
	Variable  string  `json:"variable" yaml:"variable" mapstructure:"variable"`
	Increment float64 `json:"increment" yaml:"increment" mapstructure:"increment"`
}

// DefaultAnalysisPlan returns the standard set of hypotheses.
func DefaultAnalysisPlan() AnalysisPlan {
	return AnalysisPlan{
		Intervals: []IntervalTarget{
			{Group: string(flow.LabelDDoS), Variable: flow.ColumnFlowPktsS},
		},
		OneSample: []OneSampleTarget{
			{Group: string(flow.LabelNormal), Variable: flow.ColumnFlowPktsS, NullMean: 75},
		},
		TwoSample: []TwoSampleTarget{
			{Group1: string(flow.LabelDDoS), Group2: string(flow.LabelNormal), Variable: flow.ColumnFlowPktsS},
			{Group1: string(flow.LabelDDoS), Group2: string(flow.LabelNormal), Variable: flow.ColumnFlowBytsS},
		},
		ANOVA: []ANOVATarget{
			{Group: string(flow.LabelDDoS), Variable: flow.ColumnFlowPktsS, Factor: flow.ColumnDeviceType},
		},
		Regression: RegressionTarget{
			Continuous:  []string{flow.ColumnFlowPktsS, flow.ColumnAvgPktLen},
			Categorical: flow.ColumnDeviceType,
			Effect:      EffectTarget{Variable: flow.ColumnFlowPktsS, Increment: 10},
			Ablation:    true,
		},
	}
}

func validGroup(g string) bool {
	if g == GroupAll {
		return true
	}
	_, err := flow.ParseLabel(g)
	return err == nil
}

func validateGroupVariable(field, group, variable string) error {
	if !validGroup(group) {
		return &InputError{Field: field, Reason: fmt.Sprintf("unknown group %q", group)}
	}
	if !flow.IsContinuous(variable) {
		return &InputError{Field: field, Reason: fmt.Sprintf("%q is not a numeric column", variable)}
	}
	return nil
}

// Validate checks every target against the dataset schema. Repeated targets
// are rejected since they would produce the same result rows.
func (p AnalysisPlan) Validate() error {
	seen := make(map[string]bool)
	unique := func(field string, key ...any) error {
		k := fmt.Sprint(key...)
		if seen[k] {
			return &InputError{Field: field, Reason: "duplicate target"}
		}
		seen[k] = true
		return nil
	}
	for i, t := range p.Intervals {
		if err := unique(fmt.Sprintf("intervals[%d]", i), "ci|", t.Group, "|", t.Variable); err != nil {
			return err
		}
		if err := validateGroupVariable(fmt.Sprintf("intervals[%d]", i), t.Group, t.Variable); err != nil {
			return err
		}
	}
	for i, t := range p.OneSample {
		if err := unique(fmt.Sprintf("one_sample[%d]", i), "t1|", t.Group, "|", t.Variable, "|", t.NullMean); err != nil {
			return err
		}
		if err := validateGroupVariable(fmt.Sprintf("one_sample[%d]", i), t.Group, t.Variable); err != nil {
			return err
		}
	}
	for i, t := range p.TwoSample {
		field := fmt.Sprintf("two_sample[%d]", i)
		if err := validateGroupVariable(field, t.Group1, t.Variable); err != nil {
			return err
		}
		if err := validateGroupVariable(field, t.Group2, t.Variable); err != nil {
			return err
		}
		if t.Group1 == t.Group2 {
			return &InputError{Field: field, Reason: "groups must differ"}
		}
		if err := unique(field, "t2|", t.Group1, "|", t.Group2, "|", t.Variable); err != nil {
			return err
		}
	}
	for i, t := range p.ANOVA {
		field := fmt.Sprintf("anova[%d]", i)
		if err := validateGroupVariable(field, t.Group, t.Variable); err != nil {
			return err
		}
		if err := unique(field, "anova|", t.Group, "|", t.Variable, "|", t.Factor); err != nil {
			return err
		}
		if t.Factor != flow.ColumnDeviceType && t.Factor != flow.ColumnLabel {
			return &InputError{Field: field, Reason: fmt.Sprintf("factor %q is not categorical", t.Factor)}
		}
	}
	r := p.Regression
	if len(r.Continuous) == 0 && r.Categorical == "" {
		return nil
	}
	for _, c := range r.Continuous {
		if !flow.IsContinuous(c) {
			return &InputError{Field: "regression.continuous", Reason: fmt.Sprintf("%q is not a numeric column", c)}
		}
	}
	if r.Categorical != "" && r.Categorical != flow.ColumnDeviceType {
		return &InputError{Field: "regression.categorical", Reason: fmt.Sprintf("%q cannot be a predictor", r.Categorical)}
	}
	if r.Effect.Variable != "" {
		found := false
		for _, c := range r.Continuous {
			found = found || c == r.Effect.Variable
		}
		if !found {
			return &InputError{Field: "regression.effect", Reason: fmt.Sprintf("%q is not a model predictor", r.Effect.Variable)}
		}
	}
	return nil
}

// groupColumn returns the values of variable for group ("All" or a label).
func groupColumn(ds *flow.Dataset, group, variable string) ([]float64, error) {
	subset := ds
	if group != GroupAll {
		label, err := flow.ParseLabel(group)
		if err != nil {
			return nil, &InputError{Field: "group", Reason: err.Error(), Err: err}
		}
		subset = ds.WithLabel(label)
	}
	values, err := subset.Column(variable)
	if err != nil {
		return nil, &InputError{Field: variable, Reason: "unknown numeric column", Err: err}
	}
	return values, nil
}
