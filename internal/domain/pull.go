package domain

// PullAction identifies one delta-fetch stream. Only the actions below are
// recognised; anything else is rejected before it reaches a query.
type PullAction string

const (
	PullGames          PullAction = "pull_games"
	PullBins           PullAction = "pull_bins"
	PullReceivedPacks  PullAction = "pull_received_packs"
	PullActivatedPacks PullAction = "pull_activated_packs"
	PullDepletedPacks  PullAction = "pull_depleted_packs"
	PullReturnedPacks  PullAction = "pull_returned_packs"
)

// PullActions lists every allowlisted action in apply order: games and bins
// must exist locally before packs referencing them arrive.
var PullActions = []PullAction{
	PullGames,
	PullBins,
	PullReceivedPacks,
	PullActivatedPacks,
	PullDepletedPacks,
	PullReturnedPacks,
}

var pullActionEndpoints = map[PullAction]string{
	PullGames:          "games",
	PullBins:           "bins",
	PullReceivedPacks:  "packs/received",
	PullActivatedPacks: "packs/activated",
	PullDepletedPacks:  "packs/depleted",
	PullReturnedPacks:  "packs/returned",
}

func (a PullAction) IsValid() bool {
	_, ok := pullActionEndpoints[a]
	return ok
}

// Endpoint returns the path segment under /api/v1/sync/ serving the action.
func (a PullAction) Endpoint() string {
	return pullActionEndpoints[a]
}

// Entity returns the local table family the action's records apply to.
func (a PullAction) Entity() string {
	switch a {
	case PullGames:
		return "game"
	case PullBins:
		return "bin"
	case "":
		return ""
	}
	if a.IsValid() {
		return "pack"
	}
	return ""
}
