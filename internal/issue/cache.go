package issue

import "github.com/trkdev/trk/internal/models"

type accessKey struct {
	issueID int64
	userID  int64
}

// Cache memoizes issue rows and access verdicts for the duration of one
// request or invocation. It is created per request and passed explicitly;
// it is not safe for concurrent use and is never shared across requests.
type Cache struct {
	issues map[int64]*models.Issue
	access map[accessKey]bool
}

func NewCache() *Cache {
	return &Cache{
		issues: make(map[int64]*models.Issue),
		access: make(map[accessKey]bool),
	}
}

func (c *Cache) issue(id int64) (*models.Issue, bool) {
	i, ok := c.issues[id]
	return i, ok
}

func (c *Cache) putIssue(i *models.Issue) {
	c.issues[i.ID] = i
}

// Invalidate drops the cached row and access verdicts for an issue, forcing
// the next read to hit the store. Called after every mutation.
func (c *Cache) Invalidate(issueID int64) {
	delete(c.issues, issueID)
	for k := range c.access {
		if k.issueID == issueID {
			delete(c.access, k)
		}
	}
}

func (c *Cache) accessVerdict(issueID, userID int64) (bool, bool) {
	v, ok := c.access[accessKey{issueID, userID}]
	return v, ok
}

func (c *Cache) putAccess(issueID, userID int64, allowed bool) {
	c.access[accessKey{issueID, userID}] = allowed
}
