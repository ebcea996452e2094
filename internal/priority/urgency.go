package priority

import "github.com/kursadbilgin/courier/internal/domain"

func ChannelMultiplier(channel domain.Channel) float64 {
	switch channel {
	case domain.ChannelPhone:
		return 1.5
	case domain.ChannelSMS:
		return 1.2
	default:
		return 1.0
	}
}

func SentimentMultiplier(sentiment *float64) float64 {
	switch {
	case sentiment == nil:
		return 1.0
	case *sentiment < -0.5:
		return 2.0
	case *sentiment < -0.2:
		return 1.5
	default:
		return 1.0
	}
}

func ClassificationMultiplier(classification *domain.Classification) float64 {
	if classification == nil {
		return 1.0
	}
	switch *classification {
	case domain.ClassificationComplaint:
		return 2.0
	case domain.ClassificationInquiry:
		return 1.2
	default:
		return 1.0
	}
}

// UrgencyMultiplier combines channel, sentiment and classification for one communication.
func UrgencyMultiplier(c *domain.Communication) float64 {
	return ChannelMultiplier(c.Channel) *
		SentimentMultiplier(c.Sentiment) *
		ClassificationMultiplier(c.Classification)
}
