package match

// InterestsIntersect сообщает, пересекаются ли интересы подписчика с
// интересами проекта. Подписчик без интересов не получает ничего — это
// осознанная политика умолчания, а не ошибка.
func InterestsIntersect(actorInterests, objectInterests []string) bool {
	if len(actorInterests) == 0 || len(objectInterests) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(objectInterests))
	for _, uri := range objectInterests {
		if uri != "" {
			set[uri] = struct{}{}
		}
	}
	for _, uri := range actorInterests {
		if _, ok := set[uri]; ok {
			return true
		}
	}
	return false
}
