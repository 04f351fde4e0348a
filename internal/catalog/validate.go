package catalog

import "fmt"

// perceptionEventTypes are emitted by the visibility engine itself, not by
// catalog templates. Every catalog must declare them; a catalog that omits
// one would fail mid-tick instead of at startup.
var perceptionEventTypes = []string{
	"AMBIENT_SEEN", "AMBIENT_REPLIED", "EVENT_SEEN", "EVENT_REPLIED",
}

// validate checks cross-references inside the catalog. Any failure here is
// fatal at startup: the scheduler must not start running on a broken village.
func (c *Catalog) validate() error {
	if len(c.NPCs) == 0 {
		return fmt.Errorf("catalog has no NPCs")
	}
	if len(c.Places) == 0 {
		return fmt.Errorf("catalog has no places")
	}

	for _, pt := range perceptionEventTypes {
		if _, ok := c.EventTypes[pt]; !ok {
			return fmt.Errorf("catalog must declare perception event type %s", pt)
		}
	}

	npcIDs := make(map[string]bool, len(c.NPCs))
	for _, n := range c.NPCs {
		if n.ID == "" || n.Name == "" {
			return fmt.Errorf("NPC with missing id or name")
		}
		if npcIDs[n.ID] {
			return fmt.Errorf("duplicate NPC id %s", n.ID)
		}
		npcIDs[n.ID] = true
	}

	placeIDs := make(map[string]bool, len(c.Places))
	placeTypes := make(map[string]bool)
	for _, p := range c.Places {
		if p.ID == "" {
			return fmt.Errorf("place with missing id")
		}
		if placeIDs[p.ID] {
			return fmt.Errorf("duplicate place id %s", p.ID)
		}
		placeIDs[p.ID] = true
		placeTypes[p.Type] = true
	}

	if c.ReporterNPC != "" && !npcIDs[c.ReporterNPC] {
		return fmt.Errorf("reporter_npc %s is not a declared NPC", c.ReporterNPC)
	}

	for _, e := range c.Edges {
		if !npcIDs[e.From] {
			return fmt.Errorf("relationship edge from unknown NPC %s", e.From)
		}
		// "npc_all" broadcast edges are allowed on the target side; they are
		// expanded (or skipped) at seed time, not stored as-is.
		if e.To != "npc_all" && !npcIDs[e.To] {
			return fmt.Errorf("relationship edge to unknown NPC %s", e.To)
		}
	}

	for _, tpl := range c.Routine {
		if _, ok := c.EventTypes[tpl.Type]; !ok {
			return fmt.Errorf("routine template references unknown event type %s", tpl.Type)
		}
		if len(tpl.PlaceTypes) == 0 {
			return fmt.Errorf("routine template %s has no place types", tpl.Type)
		}
		if tpl.Publicness < 0 || tpl.Publicness > 1 || tpl.Severity < 0 || tpl.Severity > 1 {
			return fmt.Errorf("routine template %s has out-of-range publicness/severity", tpl.Type)
		}
		if tpl.TargetChance < 0 || tpl.TargetChance > 1 {
			return fmt.Errorf("routine template %s has out-of-range target_chance", tpl.Type)
		}
	}

	for i, ev := range c.Day1Events {
		if ev.ID == "" {
			return fmt.Errorf("day1 event %d has no id", i)
		}
		if _, ok := c.EventTypes[ev.Type]; !ok {
			return fmt.Errorf("day1 event %s references unknown event type %s", ev.ID, ev.Type)
		}
		if ev.PlaceID != "" && !placeIDs[ev.PlaceID] {
			return fmt.Errorf("day1 event %s references unknown place %s", ev.ID, ev.PlaceID)
		}
		for _, a := range ev.Actors {
			if !npcIDs[a] {
				return fmt.Errorf("day1 event %s references unknown actor %s", ev.ID, a)
			}
		}
		for _, tgt := range ev.Targets {
			if !npcIDs[tgt] {
				return fmt.Errorf("day1 event %s references unknown target %s", ev.ID, tgt)
			}
		}
	}

	for et, pools := range c.PayloadPools {
		if _, ok := c.EventTypes[et]; !ok {
			return fmt.Errorf("payload pool for unknown event type %s", et)
		}
		for field, opts := range pools {
			if len(opts) == 0 {
				return fmt.Errorf("payload pool %s.%s is empty", et, field)
			}
		}
	}

	for archetype, table := range c.ReplyTables {
		for ch, p := range table {
			if p < 0 || p > 1 {
				return fmt.Errorf("reply table %s/%s probability out of range: %v", archetype, ch, p)
			}
		}
	}

	for topic, row := range c.Appraisal {
		for archetype, r := range row {
			switch r.Intent {
			case "POST_FEED", "POST_CHAT", "IGNORE":
			default:
				return fmt.Errorf("appraisal %s/%s has unknown intent %q", topic, archetype, r.Intent)
			}
		}
	}

	return nil
}
