package extraction

// DefaultFamilies returns the built-in French/English indicator table.
//
// Indicators are tried in order and the first match per family per turn
// wins, so put the most specific expressions first.
func DefaultFamilies() []Family {
	return []Family{
		{
			Type:       TypeGap,
			Confidence: 0.80,
			Indicators: []Indicator{
				{Name: "ai_unknown_fr", Target: TargetResponse, Regex: `(?i)je ne (sais|connais) pas|je n['’]ai pas (cette|l['’]|d['’])\s*information|je ne suis pas (sûr|certain)|aucune information`},
				{Name: "ai_unknown_en", Target: TargetResponse, Regex: `(?i)i (don['’]t|do not) (know|have (that|this|any) information)|i['’]m not (sure|certain)|i (can['’]t|cannot) find (any )?information|no information (about|on)`},
				{Name: "user_unanswered_fr", Target: TargetUser, Regex: `(?i)vous ne (savez|répondez) pas|pas de réponse|vous n['’]avez pas répondu`},
				{Name: "user_unanswered_en", Target: TargetUser, Regex: `(?i)you (don['’]t|didn['’]t) (know|answer)|no answer`},
			},
		},
		{
			Type:       TypeCorrection,
			Confidence: 0.85,
			Indicators: []Indicator{
				{Name: "correction_fr", Target: TargetUser, Regex: `(?i)c['’]est (faux|incorrect|inexact)|non,? (ce n['’]est pas|c['’]est pas)|en fait,? (c['’]est|nous|on)|vous vous trompez`},
				{Name: "correction_en", Target: TargetUser, Regex: `(?i)that['’]?s (wrong|incorrect|not (right|correct|true))|actually,? (it|we|our)|you['’]re (wrong|mistaken)|\bno,? (it|that) (is|was)n['’]?t`},
			},
		},
		{
			Type:       TypeFAQ,
			Confidence: 0.60,
			Indicators: []Indicator{
				{Name: "faq_fr", Target: TargetUser, Regex: `(?i)comment (puis-je|faire|est-ce que|fonctionne)|qu['’]est-ce que|quel(le)?s? (sont|est) (vos|les|le|la) (tarifs?|prix|horaires|délais|conditions)|combien (coûte|de temps)`},
				{Name: "faq_en", Target: TargetUser, Regex: `(?i)how (do|can|does) (i|we|it|you)|what (is|are) (your|the) (price|pricing|hours|terms|delay)s?|how (much|long) (does|is|will)`},
			},
		},
		{
			Type:       TypeFeatureRequest,
			Confidence: 0.70,
			Indicators: []Indicator{
				{Name: "feature_fr", Target: TargetUser, Regex: `(?i)il faudrait|ce serait (bien|génial|pratique)|j['’]aimerais (que|pouvoir)|pourriez-vous ajouter|est-ce possible d['’]ajouter`},
				{Name: "feature_en", Target: TargetUser, Regex: `(?i)it would be (nice|great|helpful)|(can|could) you add|i wish (you|it|there)|feature request|please add`},
			},
		},
		{
			Type:       TypeInsight,
			Confidence: 0.65,
			Indicators: []Indicator{
				{Name: "insight_fr", Target: TargetUser, Regex: `(?i)nous utilisons|notre (entreprise|société|équipe|budget|cible)|je préfère|nos clients`},
				{Name: "insight_en", Target: TargetUser, Regex: `(?i)we (use|prefer|usually)|our (company|team|budget|customers|target)|i prefer`},
			},
		},
	}
}
