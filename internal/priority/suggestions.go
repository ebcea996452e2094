package priority

import "github.com/kursadbilgin/courier/internal/domain"

var (
	complaintSuggestions = []string{
		"We are sorry for the trouble. We understand your frustration and are looking into this right away.",
		"Thank you for reporting the problem. We are treating it as a priority and will contact you shortly with a solution.",
		"We regret this situation. Our technical team is already reviewing your report and will be in touch soon.",
	}
	inquirySuggestions = []string{
		"Thank you for your interest in our services. We will be glad to answer all of your questions.",
		"We appreciate your inquiry and will prepare a detailed answer within 24 hours.",
		"Thank you for getting in touch. We are happy to share more information about our services.",
	}
	thanksSuggestions = []string{
		"We are glad we could help. Your satisfaction matters most to us.",
		"Thank you for the kind words. We always aim to deliver the highest quality of service.",
		"We appreciate your feedback. It motivates us to keep improving.",
	}
	defaultSuggestions = []string{
		"Thank you for your message. We will reply as soon as possible.",
		"We confirm receipt of your message and will be in touch shortly.",
		"Thank you for contacting us. We will respond to your message within 24 hours.",
	}
)

// Suggestions returns the canned replies for a classification. The returned
// slice is a copy and may be modified by the caller.
func Suggestions(classification *domain.Classification) []string {
	set := defaultSuggestions
	if classification != nil {
		switch *classification {
		case domain.ClassificationComplaint:
			set = complaintSuggestions
		case domain.ClassificationInquiry:
			set = inquirySuggestions
		case domain.ClassificationThanks:
			set = thanksSuggestions
		}
	}
	return append([]string(nil), set...)
}
