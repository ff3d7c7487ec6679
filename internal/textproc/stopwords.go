package textproc

// englishStopWords is a compact English stop-word list.
var englishStopWords = []string{
	"a", "about", "above", "after", "again", "against", "all", "almost", "also", "am", "among",
	"an", "and", "any", "are", "as", "at", "be", "became", "because", "been", "before", "being",
	"below", "between", "both", "but", "by", "can", "cannot", "could", "did", "do", "does",
	"doing", "done", "down", "during", "each", "either", "else", "ever", "every", "few", "for",
	"from", "further", "get", "had", "has", "have", "having", "he", "her", "here", "hers",
	"herself", "him", "himself", "his", "how", "however", "i", "if", "in", "into", "is", "it",
	"its", "itself", "just", "least", "less", "made", "make", "many", "may", "me", "might",
	"more", "most", "much", "must", "my", "myself", "neither", "never", "no", "nor", "not",
	"now", "of", "off", "often", "on", "once", "one", "only", "or", "other", "our", "ours",
	"ourselves", "out", "over", "own", "per", "perhaps", "quite", "rather", "really", "same",
	"say", "see", "seem", "seemed", "several", "she", "should", "since", "so", "some", "still",
	"such", "than", "that", "the", "their", "theirs", "them", "themselves", "then", "there",
	"these", "they", "this", "those", "though", "through", "thus", "to", "together", "too",
	"toward", "under", "until", "up", "upon", "us", "used", "using", "various", "very", "via",
	"was", "we", "well", "were", "what", "whatever", "when", "where", "whether", "which",
	"while", "who", "whole", "whom", "whose", "why", "will", "with", "within", "without",
	"would", "yet", "you", "your", "yours", "yourself", "yourselves",
}

// EnglishStopWords returns a fresh set of English stop words.
func EnglishStopWords() map[string]struct{} {
	set := make(map[string]struct{}, len(englishStopWords))
	for _, w := range englishStopWords {
		set[w] = struct{}{}
	}
	return set
}
