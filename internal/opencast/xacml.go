package opencast

import "encoding/xml"

// XACML 2.0 identifiers used in episode policies.
const (
	xacmlNS             = "urn:oasis:names:tc:xacml:2.0:policy:schema:os"
	xacmlPermitOverride = "urn:oasis:names:tc:xacml:1.0:rule-combining-algorithm:permit-overrides"
	xacmlStringEqual    = "urn:oasis:names:tc:xacml:1.0:function:string-equal"
	xacmlStringIsIn     = "urn:oasis:names:tc:xacml:1.0:function:string-is-in"
	xacmlResourceID     = "urn:oasis:names:tc:xacml:1.0:resource:resource-id"
	xacmlActionID       = "urn:oasis:names:tc:xacml:1.0:action:action-id"
	xacmlSubjectRole    = "urn:oasis:names:tc:xacml:2.0:subject:role"
	xsdString           = "http://www.w3.org/2001/XMLSchema#string"
)

type xacmlAttributeValue struct {
	DataType string `xml:"DataType,attr"`
	Text     string `xml:",chardata"`
}

type xacmlDesignator struct {
	AttributeID string `xml:"AttributeId,attr"`
	DataType    string `xml:"DataType,attr"`
}

type xacmlResourceMatch struct {
	MatchID        string              `xml:"MatchId,attr"`
	AttributeValue xacmlAttributeValue `xml:"AttributeValue"`
	Designator     xacmlDesignator     `xml:"ResourceAttributeDesignator"`
}

type xacmlActionMatch struct {
	MatchID        string              `xml:"MatchId,attr"`
	AttributeValue xacmlAttributeValue `xml:"AttributeValue"`
	Designator     xacmlDesignator     `xml:"ActionAttributeDesignator"`
}

type xacmlPolicyTarget struct {
	Resources struct {
		Resource struct {
			Match xacmlResourceMatch `xml:"ResourceMatch"`
		} `xml:"Resource"`
	} `xml:"Resources"`
}

type xacmlRuleTarget struct {
	Actions struct {
		Action struct {
			Match xacmlActionMatch `xml:"ActionMatch"`
		} `xml:"Action"`
	} `xml:"Actions"`
}

type xacmlCondition struct {
	Apply struct {
		FunctionID     string              `xml:"FunctionId,attr"`
		AttributeValue xacmlAttributeValue `xml:"AttributeValue"`
		Designator     xacmlDesignator     `xml:"SubjectAttributeDesignator"`
	} `xml:"Apply"`
}

type xacmlRule struct {
	RuleID    string           `xml:"RuleId,attr"`
	Effect    string           `xml:"Effect,attr"`
	Target    *xacmlRuleTarget `xml:"Target,omitempty"`
	Condition *xacmlCondition  `xml:"Condition,omitempty"`
}

type xacmlPolicy struct {
	XMLName            xml.Name          `xml:"Policy"`
	PolicyID           string            `xml:"PolicyId,attr"`
	Version            string            `xml:"Version,attr"`
	RuleCombiningAlgID string            `xml:"RuleCombiningAlgId,attr"`
	Xmlns              string            `xml:"xmlns,attr"`
	Target             xacmlPolicyTarget `xml:"Target"`
	Rules              []xacmlRule       `xml:"Rule"`
}

// EpisodeXACML builds the permit-overrides authorization policy for one
// episode: a Permit rule per ACL entry and a terminal deny.
func EpisodeXACML(episodeID string, aces []ACE) string {
	policy := xacmlPolicy{
		PolicyID:           episodeID,
		Version:            "2.0",
		RuleCombiningAlgID: xacmlPermitOverride,
		Xmlns:              xacmlNS,
	}
	policy.Target.Resources.Resource.Match = xacmlResourceMatch{
		MatchID:        xacmlStringEqual,
		AttributeValue: xacmlAttributeValue{DataType: xsdString, Text: episodeID},
		Designator:     xacmlDesignator{AttributeID: xacmlResourceID, DataType: xsdString},
	}

	for _, ace := range aces {
		rule := xacmlRule{
			RuleID: ace.Role + "_" + ace.Action + "_Permit",
			Effect: "Permit",
			Target: &xacmlRuleTarget{},
			Condition: &xacmlCondition{},
		}
		rule.Target.Actions.Action.Match = xacmlActionMatch{
			MatchID:        xacmlStringEqual,
			AttributeValue: xacmlAttributeValue{DataType: xsdString, Text: ace.Action},
			Designator:     xacmlDesignator{AttributeID: xacmlActionID, DataType: xsdString},
		}
		rule.Condition.Apply.FunctionID = xacmlStringIsIn
		rule.Condition.Apply.AttributeValue = xacmlAttributeValue{DataType: xsdString, Text: ace.Role}
		rule.Condition.Apply.Designator = xacmlDesignator{AttributeID: xacmlSubjectRole, DataType: xsdString}
		policy.Rules = append(policy.Rules, rule)
	}
	policy.Rules = append(policy.Rules, xacmlRule{RuleID: "DenyRule", Effect: "Deny"})

	out, err := xml.Marshal(policy)
	if err != nil {
		// The policy is built from plain strings; marshaling cannot fail.
		panic(err)
	}
	return xmlHeader + string(out)
}
